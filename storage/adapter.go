package storage

import (
	"context"
	"time"
)

// Tier classifies a backend by its capacity profile. The manager's tier
// selection relies on it rather than on concrete backend types.
type Tier int

const (
	// Fast tiers are small and in-process.
	Fast Tier = iota
	// Medium tiers persist a few megabytes.
	Medium
	// Large tiers hold bulky payloads and are the fallback of last resort.
	Large
)

func (t Tier) String() string {
	switch t {
	case Fast:
		return "fast"
	case Medium:
		return "medium"
	case Large:
		return "large"
	default:
		return "unknown"
	}
}

// LargeEntryThreshold is the entry size above which the fast tier is no
// longer a candidate and a large-tier backup copy is made.
const LargeEntryThreshold = 100 * 1024

// Adapter is implemented by every physical backend. Callers never learn which
// adapter satisfied a request; the manager decides.
type Adapter interface {
	// Get returns the entry stored under key, or (nil, nil) when the key is
	// missing. Corrupt and expired records are deleted and reported as a
	// miss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set persists e under key, replacing any previous record. It returns
	// an error matching ErrQuotaExceeded when the backend cannot make room.
	Set(ctx context.Context, key string, e *Entry) error

	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether key holds an unexpired entry, deleting it when it
	// has expired.
	Has(ctx context.Context, key string) (bool, error)

	// Keys lists the keys of this adapter's namespace, optionally filtered by
	// prefix. Expired keys may still be listed.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Clear removes every entry in this adapter's namespace.
	Clear(ctx context.Context) error

	// Type is a stable backend name for diagnostics.
	Type() string

	// Tier reports the capacity class of the backend.
	Tier() Tier

	// MaxSize returns the byte ceiling; ok is false when unbounded.
	MaxSize() (size int64, ok bool)

	// Usage returns the estimated bytes in use; ok is false when the backend
	// cannot measure it.
	Usage(ctx context.Context) (size int64, ok bool)

	// Available reports whether the backend was detected in this runtime.
	Available() bool
}

// Reclaimer is implemented by finite tiers that can drop expired entries on
// demand. It returns the number of bytes freed.
type Reclaimer interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Clock returns the current time. Adapters accept one so tests can move time
// without sleeping.
type Clock func() time.Time
