package memory

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Keksclan/tiercache/storage"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func mustWrap(t *testing.T, v any, ttl time.Duration, at time.Time) *storage.Entry {
	t.Helper()
	e, err := storage.Wrap(v, ttl, "", at)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return e
}

func mustSize(t *testing.T, e *storage.Entry) int64 {
	t.Helper()
	n, err := storage.EncodedSize(e)
	if err != nil {
		t.Fatalf("EncodedSize: %v", err)
	}
	return n
}

func TestStore_GetSetDelete(t *testing.T) {
	clk := newClock()
	s := New(WithClock(clk.Now))
	ctx := t.Context()

	got, err := s.Get(ctx, "k")
	if err != nil || got != nil {
		t.Fatalf("expected miss, got %v, %v", got, err)
	}

	if err := s.Set(ctx, "k", mustWrap(t, "v", 0, clk.Now())); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err = s.Get(ctx, "k")
	if err != nil || got == nil {
		t.Fatalf("expected hit, got %v, %v", got, err)
	}
	if string(got.Data) != `"v"` {
		t.Fatalf("data = %s", got.Data)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if ok, _ := s.Has(ctx, "k"); ok {
		t.Fatal("expected key gone")
	}
	if u, _ := s.Usage(ctx); u != 0 {
		t.Fatalf("usage = %d after delete, want 0", u)
	}
}

func TestStore_ExpiredIsDeletedLazily(t *testing.T) {
	clk := newClock()
	s := New(WithClock(clk.Now))
	ctx := t.Context()

	if err := s.Set(ctx, "p", mustWrap(t, "a", time.Second, clk.Now())); err != nil {
		t.Fatalf("Set: %v", err)
	}
	clk.Advance(1100 * time.Millisecond)

	if ok, _ := s.Has(ctx, "p"); ok {
		t.Fatal("expected expired entry to be absent")
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry still stored, len = %d", s.Len())
	}
}

func TestStore_EvictsOldestWrite(t *testing.T) {
	clk := newClock()
	ctx := t.Context()

	e1 := mustWrap(t, "v1", 0, clk.Now())
	size := mustSize(t, e1)
	s := New(WithClock(clk.Now), WithMaxSize(3*size))

	if err := s.Set(ctx, "t1", e1); err != nil {
		t.Fatalf("Set t1: %v", err)
	}
	clk.Advance(time.Second)
	if err := s.Set(ctx, "t2", mustWrap(t, "v2", 0, clk.Now())); err != nil {
		t.Fatalf("Set t2: %v", err)
	}
	clk.Advance(time.Second)
	if err := s.Set(ctx, "t3", mustWrap(t, "v3", 0, clk.Now())); err != nil {
		t.Fatalf("Set t3: %v", err)
	}

	// The tier is full; one more entry of the same size forces one eviction.
	clk.Advance(time.Second)
	if err := s.Set(ctx, "t4", mustWrap(t, "v4", 0, clk.Now())); err != nil {
		t.Fatalf("Set t4: %v", err)
	}

	keys, _ := s.Keys(ctx, "")
	if !slices.Equal(keys, []string{"t2", "t3", "t4"}) {
		t.Fatalf("keys = %v, want [t2 t3 t4]", keys)
	}
}

func TestStore_ExpiredReclaimedBeforeLiveData(t *testing.T) {
	clk := newClock()
	ctx := t.Context()

	first := mustWrap(t, "v1", 0, clk.Now())
	size := mustSize(t, first)
	s := New(WithClock(clk.Now), WithMaxSize(2*size+size/2))

	if err := s.Set(ctx, "old", first); err != nil {
		t.Fatalf("Set old: %v", err)
	}
	clk.Advance(time.Second)
	if err := s.Set(ctx, "short", mustWrap(t, "v2", 500*time.Millisecond, clk.Now())); err != nil {
		t.Fatalf("Set short ttl: %v", err)
	}
	clk.Advance(time.Second)

	if err := s.Set(ctx, "new", mustWrap(t, "v3", 0, clk.Now())); err != nil {
		t.Fatalf("Set new: %v", err)
	}
	keys, _ := s.Keys(ctx, "")
	if !slices.Equal(keys, []string{"new", "old"}) {
		t.Fatalf("keys = %v, want [new old]", keys)
	}
}

func TestStore_QuotaExceededWhenEntryTooLarge(t *testing.T) {
	s := New(WithMaxSize(16))
	err := s.Set(t.Context(), "big", mustWrap(t, "this payload is far too large", 0, time.Now()))
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("Set error = %v, want QUOTA_EXCEEDED", err)
	}
}

func TestStore_KeysPrefixAndClear(t *testing.T) {
	s := New()
	ctx := t.Context()
	for _, k := range []string{"follow:1", "follow:2", "profile:1"} {
		if err := s.Set(ctx, k, mustWrap(t, k, 0, time.Now())); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	keys, err := s.Keys(ctx, "follow:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if !slices.Equal(keys, []string{"follow:1", "follow:2"}) {
		t.Fatalf("keys = %v", keys)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("len = %d after clear", s.Len())
	}
}
