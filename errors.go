package floodgate

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("floodgate: no store configured")
	ErrStoreClosed     = errors.New("floodgate: store closed")
	ErrMigrationFailed = errors.New("floodgate: migration failed")

	// Not found errors.
	ErrTokenNotFound        = errors.New("floodgate: admission token not found")
	ErrSagaNotFound         = errors.New("floodgate: saga not found")
	ErrEntryNotFound        = errors.New("floodgate: wal entry not found")
	ErrInterventionNotFound = errors.New("floodgate: intervention entry not found")
	ErrAdapterNotFound      = errors.New("floodgate: tool adapter not found")
	ErrTenantNotFound       = errors.New("floodgate: tenant not found")

	// Admission and scheduling errors.
	ErrQueueFull = errors.New("floodgate: tenant queue full")

	// Resilience errors.
	ErrCircuitOpen     = errors.New("floodgate: circuit open")
	ErrBulkheadTimeout = errors.New("floodgate: bulkhead permit wait timed out")

	// State errors.
	ErrInvalidState  = errors.New("floodgate: invalid state transition")
	ErrSagaCancelled = errors.New("floodgate: saga cancelled")
	ErrLockHeld      = errors.New("floodgate: lock held by another instance")
)

// Kind classifies an error at the point it originates so that retry and
// breaker layers never have to inspect error text. Unknown errors are
// treated as non-retriable: guessing retriability for an unclassified
// failure risks duplicating side effects.
type Kind int

const (
	// KindUnknown is the zero value for errors that were never classified.
	KindUnknown Kind = iota

	// KindTimeout marks deadline or cancellation failures. Retriable.
	KindTimeout

	// KindNetwork marks connection-level failures. Retriable.
	KindNetwork

	// KindUnavailable marks a dependency that is up but refusing work
	// (overload shedding, 503-equivalent). Retriable.
	KindUnavailable

	// KindRateLimited marks throttling by the dependency. Retriable.
	KindRateLimited

	// KindValidation marks caller mistakes (bad parameters). Non-retriable.
	KindValidation

	// KindPermanent marks terminal business failures (insufficient funds,
	// resource gone). Non-retriable.
	KindPermanent
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// KindError attaches a Kind to an underlying error. Construct with WithKind.
type KindError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *KindError) Unwrap() error { return e.Err }

// WithKind wraps err with a classification kind. Returns nil if err is nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf extracts the classification of err. Context deadline and
// cancellation errors classify as KindTimeout even when unwrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnknown
}

// IsRetriable reports whether err represents a transient failure that may
// succeed on retry. Circuit-open and bulkhead rejections are retriable by
// definition: the dependency was never invoked.
func IsRetriable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrBulkheadTimeout) {
		return true
	}
	switch KindOf(err) {
	case KindTimeout, KindNetwork, KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}
