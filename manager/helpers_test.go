package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Keksclan/tiercache/storage"
	"github.com/Keksclan/tiercache/storage/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: time.UnixMilli(1_700_000_000_000)} }

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, adapters []storage.Adapter, opts ...Option) *Manager {
	t.Helper()
	m, err := New(adapters, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func mem(clk *fakeClock, ceiling int64, tier storage.Tier) *memory.Store {
	return memory.New(memory.WithMaxSize(ceiling), memory.WithTier(tier), memory.WithClock(clk.now))
}

// flaky wraps a memory store with injectable failures.
type flaky struct {
	*memory.Store
	getErr error
	setErr error
	block  chan struct{}
	// hold blocks Set until closed.
	hold   chan struct{}
	gets   atomic.Int32
	sets   atomic.Int32
}

func (f *flaky) Get(ctx context.Context, key string) (*storage.Entry, error) {
	f.gets.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Store.Get(ctx, key)
}

func (f *flaky) Set(ctx context.Context, key string, e *storage.Entry) error {
	f.sets.Add(1)
	if f.hold != nil {
		<-f.hold
	}
	if f.setErr != nil {
		return f.setErr
	}
	return f.Store.Set(ctx, key, e)
}
