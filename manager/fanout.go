package manager

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Keksclan/tiercache/storage"
	"github.com/Keksclan/tiercache/tracing"
	"golang.org/x/sync/errgroup"
)

// each runs fn against every available tier in parallel. Failures are logged
// and never returned.
func (m *Manager) each(ctx context.Context, op, key string, fn func(context.Context, *tier) error) error {
	tiers := m.available()
	if len(tiers) == 0 {
		return notSupported(op, key)
	}
	var g errgroup.Group
	for _, t := range tiers {
		g.Go(func() error {
			if err := fn(ctx, t); err != nil {
				m.logger.Warn("tier "+op+" failed",
					append(t.attrs(), slog.String("op", op), slog.String("key", key), slog.Any("error", err))...)
			}
			return nil
		})
	}
	return g.Wait()
}

// Delete removes key from every tier. Deleting a missing key is not an error.
func (m *Manager) Delete(ctx context.Context, key string) (err error) {
	if err := m.ready(); err != nil {
		return err
	}
	start := time.Now()
	ctx, span := m.cfg.tracing.StartOp(ctx, "delete", key)
	defer func() { tracing.End(span, err) }()

	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	m.supersede(key)
	err = m.each(ctx, "delete", key, func(ctx context.Context, t *tier) error {
		return exec(ctx, m, t, "delete", key, func(ctx context.Context) error {
			return t.Delete(ctx, key)
		})
	})
	m.metrics.observe("delete", start)
	return err
}

// Clear empties every tier's namespace.
func (m *Manager) Clear(ctx context.Context) (err error) {
	if err := m.ready(); err != nil {
		return err
	}
	start := time.Now()
	ctx, span := m.cfg.tracing.StartOp(ctx, "clear", "")
	defer func() { tracing.End(span, err) }()

	m.supersedeAll()
	err = m.each(ctx, "clear", "", func(ctx context.Context, t *tier) error {
		return exec(ctx, m, t, "clear", "", t.Clear)
	})
	m.metrics.observe("clear", start)
	return err
}

// Keys returns the sorted union of keys with prefix across all tiers. Keys
// of expired entries may be listed until a read removes them.
func (m *Manager) Keys(ctx context.Context, prefix string) (_ []string, err error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := m.cfg.tracing.StartOp(ctx, "keys", "")
	defer func() { tracing.End(span, err) }()

	var (
		mu   sync.Mutex
		keys []string
	)
	err = m.each(ctx, "keys", "", func(ctx context.Context, t *tier) error {
		ks, err := run(ctx, m, t, "keys", "", func(ctx context.Context) ([]string, error) {
			return t.Keys(ctx, prefix)
		})
		if err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, ks...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	if keys == nil {
		keys = []string{}
	}
	m.metrics.observe("keys", start)
	return keys, nil
}
