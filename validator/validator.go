// Package validator decides whether cached entries are still usable and how
// long each class of data may be cached.
package validator

import (
	"time"

	"github.com/Keksclan/tiercache/storage"
)

// Class names a family of cached data sharing one base TTL.
type Class string

const (
	Relationship Class = "relationship"
	FollowCounts Class = "follow-counts"
	Feed         Class = "feed"
	Profile      Class = "profile"
	Computed     Class = "computed"
	Avatar       Class = "avatar"
	Static       Class = "static"
)

var baseTTLs = map[Class]time.Duration{
	Relationship: 5 * time.Minute,
	FollowCounts: 5 * time.Minute,
	Feed:         5 * time.Minute,
	Profile:      15 * time.Minute,
	Computed:     time.Hour,
	Avatar:       7 * 24 * time.Hour,
	Static:       30 * 24 * time.Hour,
}

// BaseTTL returns the unscaled TTL of c.
func (c Class) BaseTTL() (time.Duration, bool) {
	d, ok := baseTTLs[c]
	return d, ok
}

// Classes lists the known data classes.
func Classes() []Class {
	return []Class{Relationship, FollowCounts, Feed, Profile, Computed, Avatar, Static}
}

// SlowConnectionMultiplier scales TTLs when the link is slow.
const SlowConnectionMultiplier = 3

// DefaultRevalidateThreshold is the fraction of the TTL after which a valid
// entry should be refreshed in the background.
const DefaultRevalidateThreshold = 0.8

// Connection is the part of a network probe the validator consults.
type Connection interface {
	IsSlowConnection() bool
}

// Freshness grades an entry for stale-while-revalidate callers.
type Freshness int

const (
	// Invalid entries must not be served.
	Invalid Freshness = iota
	// Stale entries may be served while a refresh runs.
	Stale
	// Fresh entries need no refresh.
	Fresh
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "invalid"
	}
}

// Validator applies expiry and schema-version rules. It holds no state
// beyond its configuration and is safe for concurrent use.
type Validator struct {
	version   string
	threshold float64
	now       storage.Clock
}

// Option configures a Validator.
type Option func(*Validator)

// WithVersion sets the current schema version. Entries carrying a different
// non-empty version are invalid.
func WithVersion(v string) Option {
	return func(val *Validator) { val.version = v }
}

// WithRevalidateThreshold sets the age fraction of the TTL past which
// ShouldRevalidate reports true. Values outside (0, 1] are ignored.
func WithRevalidateThreshold(f float64) Option {
	return func(val *Validator) {
		if f > 0 && f <= 1 {
			val.threshold = f
		}
	}
}

// WithClock injects the time source.
func WithClock(now storage.Clock) Option {
	return func(val *Validator) { val.now = now }
}

// New returns a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{threshold: DefaultRevalidateThreshold, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Version returns the current schema version.
func (v *Validator) Version() string { return v.version }

// VersionMatches reports whether e was written under the current schema.
func (v *Validator) VersionMatches(e *storage.Entry) bool {
	return e.Version == "" || e.Version == v.version
}

// IsValid reports whether e may be served.
func (v *Validator) IsValid(e *storage.Entry) bool {
	if e == nil {
		return false
	}
	if e.Expired(v.now()) {
		return false
	}
	return v.VersionMatches(e)
}

// ShouldRevalidate reports whether e is valid but older than the revalidate
// threshold of its TTL. Entries without a TTL never need revalidation.
func (v *Validator) ShouldRevalidate(e *storage.Entry) bool {
	if !v.IsValid(e) || e.TTL <= 0 {
		return false
	}
	age := e.Age(v.now())
	return float64(age) > float64(e.TTLDuration())*v.threshold
}

// Freshness grades e.
func (v *Validator) Freshness(e *storage.Entry) Freshness {
	switch {
	case !v.IsValid(e):
		return Invalid
	case v.ShouldRevalidate(e):
		return Stale
	default:
		return Fresh
	}
}

// TTL returns the base TTL of class, tripled on a slow connection. Unknown
// classes get zero, meaning the caller's default applies.
func (v *Validator) TTL(class Class, conn Connection) time.Duration {
	return TTL(class, conn)
}

// TTL is the package-level form of [Validator.TTL].
func TTL(class Class, conn Connection) time.Duration {
	d, ok := class.BaseTTL()
	if !ok {
		return 0
	}
	if conn != nil && conn.IsSlowConnection() {
		d *= SlowConnectionMultiplier
	}
	return d
}

// DetectNewItems reports the items at the head of fresh that cached does not
// contain. It compares only the first identifiers: when they match the lists
// are assumed equal. Removals and reordering inside the tail are not
// detected.
func DetectNewItems[T any, K comparable](cached, fresh []T, id func(T) K) []T {
	if len(fresh) == 0 {
		return nil
	}
	if len(cached) > 0 && id(cached[0]) == id(fresh[0]) {
		return []T{}
	}
	seen := make(map[K]struct{}, len(cached))
	for _, item := range cached {
		seen[id(item)] = struct{}{}
	}
	out := []T{}
	for _, item := range fresh {
		if _, ok := seen[id(item)]; !ok {
			out = append(out, item)
		}
	}
	return out
}
