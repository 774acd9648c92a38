// Package manager routes cache reads and writes across an ordered list of
// storage tiers. It owns the tier-selection policy and nothing else: every
// byte lives in the adapters.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Keksclan/tiercache/breaker"
	"github.com/Keksclan/tiercache/ratelimit"
	"github.com/Keksclan/tiercache/storage"
	"github.com/Keksclan/tiercache/validator"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"
)

// tier pairs an adapter with its health breaker.
type tier struct {
	storage.Adapter
	br *breaker.Breaker
}

func (t *tier) usable() bool {
	return t.Available() && t.br.Allow()
}

func (t *tier) attrs() []any {
	return []any{slog.String("store_type", t.Type()), slog.String("tier", t.Tier().String())}
}

// Manager coordinates the tiers. It is safe for concurrent use.
type Manager struct {
	cfg       config
	tiers     []*tier
	validator *validator.Validator
	metrics   *metrics
	logger    *slog.Logger

	pool    *ants.Pool
	budget  *ratelimit.Budget
	backups sync.WaitGroup

	copiesMu sync.Mutex
	copies   map[string]*pendingCopy

	flight  singleflight.Group
	refresh singleflight.Group
	closed  atomic.Bool
}

// New builds a Manager over adapters in priority order, fastest first.
// Unavailable adapters are kept so Stats can report them but are never
// routed to.
func New(adapters []storage.Adapter, opts ...Option) (*Manager, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	v := cfg.validator
	if v == nil {
		v = validator.New(validator.WithVersion(cfg.version), validator.WithClock(cfg.now))
	}
	cfg.version = v.Version()

	m := &Manager{
		cfg:       cfg,
		validator: v,
		metrics:   newMetrics(cfg.registry),
		logger:    cfg.logger,
		budget:    ratelimit.NewBudget(cfg.backupRate, 0),
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		m.tiers = append(m.tiers, &tier{
			Adapter: a,
			br:      breaker.New(cfg.breaker).WithClock(cfg.now),
		})
	}

	pool, err := ants.NewPool(cfg.backupWorkers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			m.logger.Error("backup worker panic recovered", slog.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create backup pool: %w", err)
	}
	m.pool = pool
	return m, nil
}

func (m *Manager) ready() error {
	if m == nil || m.pool == nil {
		return ErrNotConfigured
	}
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// usable returns the tiers that may be routed to right now, in priority
// order.
func (m *Manager) usable() []*tier {
	out := make([]*tier, 0, len(m.tiers))
	for _, t := range m.tiers {
		if t.usable() {
			out = append(out, t)
		}
	}
	return out
}

// available returns every detected tier regardless of health.
func (m *Manager) available() []*tier {
	out := make([]*tier, 0, len(m.tiers))
	for _, t := range m.tiers {
		if t.Available() {
			out = append(out, t)
		}
	}
	return out
}

// Adapters returns the configured adapters in priority order.
func (m *Manager) Adapters() []storage.Adapter {
	if m == nil {
		return nil
	}
	out := make([]storage.Adapter, len(m.tiers))
	for i, t := range m.tiers {
		out[i] = t.Adapter
	}
	return out
}

// Validator returns the validator entries are checked against.
func (m *Manager) Validator() *validator.Validator {
	if m == nil {
		return nil
	}
	return m.validator
}

// WaitBackups blocks until queued background copies have finished or ctx is
// done.
func (m *Manager) WaitBackups(ctx context.Context) error {
	if err := m.ready(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	done := make(chan struct{})
	go func() {
		m.backups.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for pending backups, releases the pool and closes adapters
// that implement io.Closer. Calling it twice is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.ready(); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	errs := []error{m.WaitBackups(ctx)}
	m.pool.Release()
	for _, t := range m.tiers {
		if c, ok := t.Adapter.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", t.Type(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// run calls fn against t, racing it against the operation timeout and
// feeding the result into the tier's breaker.
func run[T any](ctx context.Context, m *Manager, t *tier, op, key string, fn func(context.Context) (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	if m.cfg.opTimeout > 0 {
		v, err = race(ctx, m.cfg.opTimeout, fn)
		if err != nil && storage.CodeOf(err) == 0 {
			err = storage.AdapterFailure(t.Type(), op, key, err)
		}
	} else {
		v, err = fn(ctx)
	}
	t.br.Record(err)
	if breaker.IsHealthFailure(err) {
		m.metrics.adapterErrors.WithLabelValues(t.Tier().String(), op).Inc()
	}
	return v, err
}

// race returns whichever comes first: fn's result or the deadline. A
// backend that ignores ctx keeps running in the background; its result is
// discarded.
func race[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// exec adapts an error-only adapter call to run.
func exec(ctx context.Context, m *Manager, t *tier, op, key string, fn func(context.Context) error) error {
	_, err := run(ctx, m, t, op, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
