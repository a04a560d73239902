package floodgate

import "time"

// Config holds configuration for the Gate coordinator.
type Config struct {
	// LeaseTTL is how long an admission token stays valid without renewal.
	LeaseTTL time.Duration

	// SweepInterval is how often expired token leases are reclaimed.
	SweepInterval time.Duration

	// SagaRetention is how long terminal sagas are kept before purge.
	SagaRetention time.Duration

	// WALRetention is how long write-ahead entries are kept before prune.
	WALRetention time.Duration

	// IdempotencyTTL is the lifetime of cached idempotent results.
	IdempotencyTTL time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown;
	// in-flight sagas are cancelled when it elapses.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LeaseTTL:        30 * time.Second,
		SweepInterval:   10 * time.Second,
		SagaRetention:   24 * time.Hour,
		WALRetention:    7 * 24 * time.Hour,
		IdempotencyTTL:  time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}
