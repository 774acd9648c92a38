package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Keksclan/tiercache/storage"
)

func TestLoad_MissFetchesAndCaches(t *testing.T) {
	clk := newClock()
	m := newManager(t, []storage.Adapter{mem(clk, 1<<20, storage.Fast)}, WithClock(clk.now))
	ctx := t.Context()

	var calls atomic.Int32
	fetch := func(context.Context) (profile, error) {
		calls.Add(1)
		return profile{Name: "ada"}, nil
	}

	for range 3 {
		p, err := Load(ctx, m, "profile:1", fetch)
		if err != nil || p.Name != "ada" {
			t.Fatalf("Load = %+v, %v", p, err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch called %d times, want 1", n)
	}
}

func TestLoad_ConcurrentMissesShareFetch(t *testing.T) {
	clk := newClock()
	m := newManager(t, []storage.Adapter{mem(clk, 1<<20, storage.Fast)}, WithClock(clk.now))
	ctx := t.Context()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make(chan int, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Load(ctx, m, "answer", fetch)
			if err != nil {
				t.Errorf("Load: %v", err)
			}
			results <- v
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != 42 {
			t.Fatalf("got %d", v)
		}
	}
	// Late callers may miss the in-flight call and hit the cache instead,
	// but never trigger a second fetch while the first is running.
	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch called %d times, want 1", n)
	}
}

func TestLoad_FetchErrorIsReturned(t *testing.T) {
	clk := newClock()
	m := newManager(t, []storage.Adapter{mem(clk, 1<<20, storage.Fast)}, WithClock(clk.now))

	boom := errors.New("upstream down")
	_, err := Load(t.Context(), m, "k", func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if ok, _ := m.Has(t.Context(), "k"); ok {
		t.Fatal("failed fetch cached a value")
	}
}

func TestLoad_StaleHitRevalidatesInBackground(t *testing.T) {
	clk := newClock()
	m := newManager(t, []storage.Adapter{mem(clk, 1<<20, storage.Fast)}, WithClock(clk.now))
	ctx := t.Context()

	_ = m.SetWithTTL(ctx, "feed:home", "v1", 10*time.Second)
	clk.advance(9 * time.Second)

	got, err := Load(ctx, m, "feed:home", func(context.Context) (string, error) { return "v2", nil })
	if err != nil || got != "v1" {
		t.Fatalf("Load = %q, %v; want the stale value served", got, err)
	}
	if err := m.WaitBackups(ctx); err != nil {
		t.Fatalf("WaitBackups: %v", err)
	}
	if v, _, _ := GetAs[string](ctx, m, "feed:home"); v != "v2" {
		t.Fatalf("after revalidation = %q, want v2", v)
	}
}
