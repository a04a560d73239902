package admission

// State store key naming for admission data.
// All keys are prefixed with "floodgate:adm:" to avoid collisions.

const keyPrefix = "floodgate:adm:"

// activeKey is the atomic integer cell counting a tenant's in-flight
// requests: floodgate:adm:active:{tenant}
func activeKey(tenantID string) string { return keyPrefix + "active:" + tenantID }

// tokenKey holds the owning tenant for a live token:
// floodgate:adm:token:{id}
func tokenKey(tokenID string) string { return keyPrefix + "token:" + tokenID }

// leaseIndexKey is the sorted set of "{tenant}/{token}" members scored by
// lease expiry, consumed by the sweep.
const leaseIndexKey = keyPrefix + "leases"

// totalActiveKey counts in-flight requests across all tenants.
const totalActiveKey = keyPrefix + "active_total"
