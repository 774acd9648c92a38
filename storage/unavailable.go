package storage

import (
	"context"
	"errors"
)

// Unavailable stands in for a backend that could not be detected in the
// current runtime. Every operation reports NOT_SUPPORTED; the manager skips
// it without treating it as a failure.
type Unavailable struct {
	typ    string
	tier   Tier
	reason error
}

// NewUnavailable returns the unavailable variant for a backend.
func NewUnavailable(typ string, tier Tier, reason error) *Unavailable {
	if reason == nil {
		reason = errors.New("backend not detected")
	}
	return &Unavailable{typ: typ, tier: tier, reason: reason}
}

// Detect runs a backend's feature detection once. When open fails the
// returned adapter is the Unavailable variant carrying the reason.
func Detect(typ string, tier Tier, open func() (Adapter, error)) Adapter {
	a, err := open()
	if err != nil || a == nil {
		return NewUnavailable(typ, tier, err)
	}
	return a
}

// Reason explains why the backend is unavailable.
func (u *Unavailable) Reason() error { return u.reason }

func (u *Unavailable) err(op string) error {
	return &Error{Code: NotSupported, Op: op, Backend: u.typ, Err: u.reason}
}

func (u *Unavailable) Get(context.Context, string) (*Entry, error) { return nil, u.err("get") }
func (u *Unavailable) Set(context.Context, string, *Entry) error { return u.err("set") }
func (u *Unavailable) Delete(context.Context, string) error { return u.err("delete") }
func (u *Unavailable) Has(context.Context, string) (bool, error) { return false, u.err("has") }
func (u *Unavailable) Keys(context.Context, string) ([]string, error) {
	return nil, u.err("keys")
}
func (u *Unavailable) Clear(context.Context) error { return u.err("clear") }
func (u *Unavailable) Type() string { return u.typ }
func (u *Unavailable) Tier() Tier { return u.tier }
func (u *Unavailable) MaxSize() (int64, bool) { return 0, false }
func (u *Unavailable) Usage(context.Context) (int64, bool) { return 0, false }
func (u *Unavailable) Available() bool { return false }
