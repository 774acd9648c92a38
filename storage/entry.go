// Package storage defines what every cache tier agrees on: the persisted
// [Entry] envelope, the error taxonomy, the [Adapter] contract and the
// eviction planner shared by the finite-capacity backends.
package storage

import (
	"encoding/json"
	"time"
)

// Entry is the envelope persisted for every logical key. Timestamp is the
// write time in epoch milliseconds and is never mutated after wrapping. A TTL
// of zero means the entry never expires by time.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl,omitempty"`
	Version   string          `json:"version,omitempty"`
}

// Wrap encodes value and stamps it with now, ttl and the schema version.
func Wrap(value any, ttl time.Duration, version string, now time.Time) (*Entry, error) {
	data, err := codec.Marshal(value)
	if err != nil {
		return nil, &Error{Code: InvalidValue, Op: "wrap", Err: err}
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Entry{
		Data:      data,
		Timestamp: now.UnixMilli(),
		TTL:       ttl.Milliseconds(),
		Version:   version,
	}, nil
}

// AsEntry returns value unchanged when it already is an entry and wraps it
// otherwise, so callers can hand either form to a tier without double
// wrapping.
func AsEntry(value any, ttl time.Duration, version string, now time.Time) (*Entry, error) {
	switch v := value.(type) {
	case *Entry:
		if v == nil {
			return nil, &Error{Code: InvalidValue, Op: "wrap", Err: errNilEntry}
		}
		return v, nil
	case Entry:
		return &v, nil
	default:
		return Wrap(value, ttl, version, now)
	}
}

// TTLDuration returns the entry TTL as a duration.
func (e *Entry) TTLDuration() time.Duration {
	return time.Duration(e.TTL) * time.Millisecond
}

// Age reports how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.Timestamp) * time.Millisecond
}

// Expired reports whether the entry has outlived its TTL at now. The
// boundary is inclusive: an entry is expired once its age reaches the TTL.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.UnixMilli()-e.Timestamp >= e.TTL
}

// Decode unmarshals the payload into dst.
func (e *Entry) Decode(dst any) error {
	if err := codec.Unmarshal(e.Data, dst); err != nil {
		return &Error{Code: InvalidValue, Op: "decode", Err: err}
	}
	return nil
}
