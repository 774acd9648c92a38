package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Keksclan/tiercache/validator"
)

// Load returns the cached value for key or, on a miss, calls fetch, caches
// its result and returns it. Concurrent loads of one key share a single
// fetch. A hit that is past its revalidation point is returned immediately
// while a background fetch refreshes it.
func Load[T any](ctx context.Context, m *Manager, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	e, err := m.GetEntry(ctx, key)
	if err != nil {
		return zero, err
	}
	if e != nil {
		var v T
		if err := e.Decode(&v); err == nil {
			if m.validator.Freshness(e) == validator.Stale {
				m.revalidate(ctx, key, func(ctx context.Context) (any, error) {
					return fetch(ctx)
				})
			}
			return v, nil
		}
		m.logger.Warn("cached value has unexpected shape, refetching", slog.String("key", key))
	}

	v, err, _ := m.flight.Do(key, func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.Set(ctx, key, v); err != nil {
			m.logger.Warn("caching loaded value failed", slog.String("key", key), slog.Any("error", err))
		}
		return v, nil
	})
	if err != nil {
		return zero, fmt.Errorf("load %q: %w", key, err)
	}
	res, _ := v.(T)
	return res, nil
}

// revalidate refreshes key in the background. At most one refresh per key
// runs at a time.
func (m *Manager) revalidate(ctx context.Context, key string, fetch func(context.Context) (any, error)) {
	ctx = context.WithoutCancel(ctx)
	m.backups.Add(1)
	err := m.pool.Submit(func() {
		defer m.backups.Done()
		ctx, cancel := context.WithTimeout(ctx, m.cfg.backupTimeout)
		defer cancel()

		_, err, _ := m.refresh.Do(key, func() (any, error) {
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			return nil, m.Set(ctx, key, v)
		})
		if err != nil {
			m.logger.Warn("background revalidation failed", slog.String("key", key), slog.Any("error", err))
		}
	})
	if err != nil {
		m.backups.Done()
		m.logger.Debug("revalidation skipped", slog.String("key", key), slog.Any("error", err))
	}
}
