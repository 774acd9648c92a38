package prefs

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Keksclan/tiercache/storage"
	"github.com/dgraph-io/badger/v4"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := OpenDir("", opts...)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustWrap(t *testing.T, v any, ttl time.Duration, now time.Time) *storage.Entry {
	t.Helper()
	e, err := storage.Wrap(v, ttl, "", now)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return e
}

func TestStore_GetSetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	if err := s.Set(ctx, "theme", mustWrap(t, "dark", 0, time.Now())); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "theme")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	var v string
	if err := got.Decode(&v); err != nil || v != "dark" {
		t.Fatalf("decoded %q, %v", v, err)
	}

	if err := s.Delete(ctx, "theme"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "theme"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if got, _ := s.Get(ctx, "theme"); got != nil {
		t.Fatal("key still present after delete")
	}
}

func TestStore_ExpiryUsesClock(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	s := openTestStore(t, WithClock(clk.now))
	ctx := t.Context()

	_ = s.Set(ctx, "k", mustWrap(t, "v", time.Hour, clk.now()))
	clk.advance(59 * time.Minute)
	if ok, _ := s.Has(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}
	clk.advance(time.Minute)
	if ok, _ := s.Has(ctx, "k"); ok {
		t.Fatal("entry served at its TTL boundary")
	}
}

func TestStore_SubSecondTTLOutlivesBadgerRounding(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	// Start late in a wall-clock second so truncating the deadline to whole
	// seconds would cut the entry short.
	if frac := time.Duration(time.Now().Nanosecond()); frac < 700*time.Millisecond {
		time.Sleep(700*time.Millisecond - frac)
	}
	start := time.Now()
	if err := s.Set(ctx, "k", mustWrap(t, "v", time.Second, start)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	got, err := s.Get(ctx, "k")
	if err != nil || got == nil {
		t.Fatalf("Get at age %v = %v, %v; want the entry", time.Since(start), got, err)
	}

	time.Sleep(time.Until(start.Add(1100 * time.Millisecond)))
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Fatal("entry served past its TTL")
	}
}

func TestBadgerExpiryRoundsUp(t *testing.T) {
	for _, d := range []time.Time{
		time.Unix(100, 0),
		time.Unix(100, 1),
		time.Unix(100, 999_999_999),
	} {
		if got := badgerExpiry(d); int64(got) <= d.Unix() || time.Unix(int64(got), 0).Before(d) {
			t.Fatalf("badgerExpiry(%v) = %d, before the deadline", d, got)
		}
	}
}

func TestStore_EvictsOldestWrite(t *testing.T) {
	clk := &fakeClock{t: time.UnixMilli(1_000_000)}
	size, err := storage.EncodedSize(mustWrap(t, "xxxxxxxx", 0, clk.now()))
	if err != nil {
		t.Fatalf("EncodedSize: %v", err)
	}
	s := openTestStore(t, WithClock(clk.now), WithMaxSize(3*size))
	ctx := t.Context()

	for _, k := range []string{"t1", "t2", "t3", "t4"} {
		clk.advance(time.Millisecond)
		if err := s.Set(ctx, k, mustWrap(t, "xxxxxxxx", 0, clk.now())); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	keys, _ := s.Keys(ctx, "")
	if want := []string{"t2", "t3", "t4"}; !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func TestStore_CorruptRecordIsReclaimedFirst(t *testing.T) {
	clk := &fakeClock{t: time.UnixMilli(1_000_000)}
	size, err := storage.EncodedSize(mustWrap(t, "xxxxxxxx", 0, clk.now()))
	if err != nil {
		t.Fatalf("EncodedSize: %v", err)
	}
	s := openTestStore(t, WithClock(clk.now), WithMaxSize(2*size))
	ctx := t.Context()

	_ = s.Set(ctx, "old", mustWrap(t, "xxxxxxxx", 0, clk.now()))
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key("broken"), make([]byte, size))
	})
	if err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}
	clk.advance(time.Millisecond)
	if err := s.Set(ctx, "new", mustWrap(t, "xxxxxxxx", 0, clk.now())); err != nil {
		t.Fatalf("Set: %v", err)
	}
	keys, _ := s.Keys(ctx, "")
	if want := []string{"new", "old"}; !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func TestStore_QuotaExceeded(t *testing.T) {
	s := openTestStore(t, WithMaxSize(16))
	err := s.Set(t.Context(), "big", mustWrap(t, "this value does not fit", 0, time.Now()))
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
}

func TestStore_PrefixIsolation(t *testing.T) {
	a := openTestStore(t)
	b := New(a.db, WithPrefix("other:"))
	ctx := t.Context()
	now := time.Now()

	_ = a.Set(ctx, "feed:1", mustWrap(t, 1, 0, now))
	_ = a.Set(ctx, "user:1", mustWrap(t, 2, 0, now))
	_ = b.Set(ctx, "feed:2", mustWrap(t, 3, 0, now))

	keys, _ := a.Keys(ctx, "feed:")
	if want := []string{"feed:1"}; !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if keys, _ := a.Keys(ctx, ""); len(keys) != 0 {
		t.Fatalf("keys after clear = %v", keys)
	}
	if keys, _ := b.Keys(ctx, ""); len(keys) != 1 {
		t.Fatalf("other namespace affected by clear: %v", keys)
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	s := openTestStore(t, WithClock(clk.now))
	ctx := t.Context()

	_ = s.Set(ctx, "short", mustWrap(t, "v", time.Minute, clk.now()))
	_ = s.Set(ctx, "long", mustWrap(t, "v", time.Hour, clk.now()))
	clk.advance(2 * time.Minute)

	freed, err := s.CleanupExpired(ctx)
	if err != nil || freed <= 0 {
		t.Fatalf("CleanupExpired = %d, %v", freed, err)
	}
	keys, _ := s.Keys(ctx, "")
	if want := []string{"long"}; !slices.Equal(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}
