package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/Keksclan/tiercache/storage"
	"github.com/Keksclan/tiercache/tracing"
)

// lookup returns the first valid entry for key in priority order, together
// with the tier that held it. Backend failures are logged and skipped, so a
// broken tier reads as a miss.
func (m *Manager) lookup(ctx context.Context, op, key string) (*storage.Entry, *tier, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, nil, err
	}
	if len(m.available()) == 0 {
		return nil, nil, notSupported(op, key)
	}

	// Tiers held open by their breaker are skipped; if that is all of them
	// the read is a miss.
	for _, t := range m.usable() {
		e, err := run(ctx, m, t, op, key, func(ctx context.Context) (*storage.Entry, error) {
			return t.Get(ctx, key)
		})
		if err != nil {
			m.logger.Warn("tier read failed",
				append(t.attrs(), slog.String("op", op), slog.String("key", key), slog.Any("error", err))...)
			continue
		}
		if e == nil {
			continue
		}
		if !m.validator.IsValid(e) {
			// Expired or written under another schema version.
			_ = exec(ctx, m, t, "delete", key, func(ctx context.Context) error {
				return t.Delete(ctx, key)
			})
			continue
		}
		return e, t, nil
	}
	return nil, nil, nil
}

// GetEntry returns the stored envelope for key, or nil on a miss. Callers use
// it when they need the write time, for example to serve stale data while
// revalidating.
func (m *Manager) GetEntry(ctx context.Context, key string) (*storage.Entry, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := m.cfg.tracing.StartOp(ctx, "get", key)

	e, t, err := m.lookup(ctx, "get", key)
	if err == nil {
		m.metrics.observe("get", start)
		if e != nil {
			m.metrics.hits.WithLabelValues(t.Tier().String()).Inc()
			tracing.Served(span, t)
		} else {
			m.metrics.misses.Inc()
		}
	}
	span.SetAttributes(tracing.AttrHit.Bool(e != nil))
	tracing.End(span, err)
	return e, err
}

// Get decodes the value stored under key into dst. found is false on a miss;
// a miss is never an error.
func (m *Manager) Get(ctx context.Context, key string, dst any) (found bool, err error) {
	e, err := m.GetEntry(ctx, key)
	if err != nil || e == nil {
		return false, err
	}
	if err := e.Decode(dst); err != nil {
		return false, err
	}
	return true, nil
}

// GetAs is Get for a value of type T.
func GetAs[T any](ctx context.Context, m *Manager, key string) (T, bool, error) {
	var v T
	found, err := m.Get(ctx, key, &v)
	return v, found, err
}

// Has reports whether key holds a valid entry in any tier. Expired and
// outdated entries are deleted on the way.
func (m *Manager) Has(ctx context.Context, key string) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}
	start := time.Now()
	ctx, span := m.cfg.tracing.StartOp(ctx, "has", key)

	e, _, err := m.lookup(ctx, "has", key)
	if err == nil {
		m.metrics.observe("has", start)
	}
	span.SetAttributes(tracing.AttrHit.Bool(e != nil))
	tracing.End(span, err)
	return e != nil, err
}
