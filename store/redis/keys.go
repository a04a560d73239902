package redis

// Redis key naming conventions for floodgate data.
// All keys are prefixed with "floodgate:" to avoid collisions.

const keyPrefix = "floodgate:"

// ── WAL keys ──

// walKey returns the key for a WAL entry: floodgate:wal:{id}
func walKey(id string) string { return keyPrefix + "wal:" + id }

// walIndexKey is the Sorted Set of WAL entry IDs scored by RequestedAt
// (unix milliseconds), used for ordered listing and pruning.
const walIndexKey = keyPrefix + "wal_idx"

// ── Saga keys ──

// sagaKey returns the key for a saga execution: floodgate:saga:{id}
func sagaKey(id string) string { return keyPrefix + "saga:" + id }

// sagaIndexKey is the Sorted Set of saga IDs scored by StartedAt.
const sagaIndexKey = keyPrefix + "saga_idx"

// ── Intervention keys ──

// interventionKey returns the key for an intervention entry:
// floodgate:ivn:{id}
func interventionKey(id string) string { return keyPrefix + "ivn:" + id }

// interventionIndexKey is the Sorted Set of intervention IDs scored by
// QueuedAt.
const interventionIndexKey = keyPrefix + "ivn_idx"
