package kvstore

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/Keksclan/tiercache/storage"
	"github.com/redis/go-redis/v9"
)

func redisStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(t.Context()).Err(); err != nil {
		t.Fatalf("cannot reach Redis at %s: %v", addr, err)
	}

	opts = append([]Option{WithPrefix("test:" + t.Name() + ":")}, opts...)
	s := New(rdb, opts...)
	t.Cleanup(func() { _ = s.Clear(context.Background()) })
	return s
}

func wrap(t *testing.T, v any, ttl time.Duration, at time.Time) *storage.Entry {
	t.Helper()
	e, err := storage.Wrap(v, ttl, "", at)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return e
}

func TestStore_GetSet(t *testing.T) {
	s := redisStore(t)
	ctx := t.Context()

	got, err := s.Get(ctx, "k1")
	if err != nil || got != nil {
		t.Fatalf("expected miss, got %v, %v", got, err)
	}

	if err := s.Set(ctx, "k1", wrap(t, "v1", 10*time.Second, time.Now())); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err = s.Get(ctx, "k1")
	if err != nil || got == nil {
		t.Fatalf("expected hit, got %v, %v", got, err)
	}
	if string(got.Data) != `"v1"` {
		t.Fatalf("data = %s", got.Data)
	}

	keys, err := s.Keys(ctx, "")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if !slices.Equal(keys, []string{"k1"}) {
		t.Fatalf("keys = %v", keys)
	}
}

func TestStore_ExpiryWithClock(t *testing.T) {
	now := time.Now()
	s := redisStore(t, WithClock(func() time.Time { return now }))
	ctx := t.Context()

	if err := s.Set(ctx, "p", wrap(t, "a", time.Minute, now)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := s.Has(ctx, "p"); ok {
		t.Fatal("expected expired entry to be absent")
	}
}

func TestStore_EvictsOldestWithinQuota(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	first := wrap(t, "v1", 0, now)
	size, _ := storage.EncodedSize(first)
	s := redisStore(t, WithMaxSize(3*size), WithClock(func() time.Time { return now }))
	ctx := t.Context()

	for i, k := range []string{"t1", "t2", "t3", "t4"} {
		e := wrap(t, "v"+k[1:], 0, now.Add(time.Duration(i)*time.Second))
		if err := s.Set(ctx, k, e); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	keys, _ := s.Keys(ctx, "")
	if !slices.Equal(keys, []string{"t2", "t3", "t4"}) {
		t.Fatalf("keys = %v, want [t2 t3 t4]", keys)
	}
}

func TestStore_QuotaExceeded(t *testing.T) {
	s := redisStore(t, WithMaxSize(10))
	err := s.Set(t.Context(), "big", wrap(t, "too large for ten bytes", 0, time.Now()))
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("Set error = %v, want QUOTA_EXCEEDED", err)
	}
}

func TestOpen_UnreachableIsUnavailable(t *testing.T) {
	a := Open(t.Context(), &redis.Options{Addr: "localhost:1", DialTimeout: 100 * time.Millisecond})
	if a.Available() {
		t.Fatal("expected unavailable adapter for unreachable Redis")
	}
	if _, err := a.Get(t.Context(), "k"); !errors.Is(err, storage.ErrNotSupported) {
		t.Fatalf("Get error = %v, want NOT_SUPPORTED", err)
	}
}

func TestOpen_NoAddress(t *testing.T) {
	a := Open(t.Context(), &redis.Options{})
	if a.Available() {
		t.Fatal("expected unavailable adapter without an address")
	}
}
