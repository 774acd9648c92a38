package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Keksclan/tiercache/storage"
	"github.com/Keksclan/tiercache/tracing"
	"github.com/Keksclan/tiercache/validator"
)

// Set stores value under key with the TTL resolved from the key policy or
// the default. value may already be a *storage.Entry, which is stored as is.
func (m *Manager) Set(ctx context.Context, key string, value any) error {
	return m.set(ctx, key, value, nil)
}

// SetWithTTL stores value under key for ttl. A zero ttl never expires.
func (m *Manager) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.set(ctx, key, value, &ttl)
}

func (m *Manager) set(ctx context.Context, key string, value any, ttl *time.Duration) (err error) {
	if err := m.ready(); err != nil {
		return err
	}
	start := time.Now()
	ctx, span := m.cfg.tracing.StartOp(ctx, "set", key)
	defer func() { tracing.End(span, err) }()

	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	m.supersede(key)
	e, err := storage.AsEntry(value, m.ttlFor(key, ttl), m.cfg.version, m.cfg.now())
	if err != nil {
		return err
	}
	size, err := storage.EncodedSize(e)
	if err != nil {
		return err
	}
	span.SetAttributes(tracing.AttrSize.Int64(size))

	if len(m.available()) == 0 {
		return notSupported("set", key)
	}
	tiers := m.usable()
	if len(tiers) == 0 {
		return unhealthy("set", key)
	}

	i := m.selectTier(ctx, tiers, size)
	err = m.write(ctx, tiers[i], key, e)
	if err != nil && i+1 < len(tiers) {
		m.logger.Warn("tier write failed, retrying on next tier",
			append(tiers[i].attrs(), slog.String("key", key), slog.Int64("size", size), slog.Any("error", err))...)
		i++
		err = m.write(ctx, tiers[i], key, e)
	}
	if err != nil {
		return err
	}

	chosen := tiers[i]
	tracing.Served(span, chosen)
	m.metrics.writes.WithLabelValues(chosen.Tier().String()).Inc()
	m.metrics.observe("set", start)

	m.dropStale(ctx, chosen, key)
	if m.cfg.autoMigrate && size > storage.LargeEntryThreshold && chosen.Tier() != storage.Large {
		m.backup(ctx, key, e, size)
	}
	return nil
}

// ttlFor resolves the TTL of a new entry: explicit, then key policy, then
// the default. Explicit and default TTLs are scaled on slow links when the
// manager is connection aware; policy TTLs scale themselves.
func (m *Manager) ttlFor(key string, explicit *time.Duration) time.Duration {
	var conn validator.Connection
	mult := time.Duration(1)
	if m.cfg.connectionAware {
		conn = m.cfg.probe
		mult = time.Duration(m.cfg.probe.CacheDurationMultiplier())
	}
	if explicit != nil {
		return max(*explicit, 0) * mult
	}
	if d, ok := m.cfg.resolver.TTL(key, conn); ok {
		return d
	}
	return m.cfg.defaultTTL * mult
}

func (m *Manager) write(ctx context.Context, t *tier, key string, e *storage.Entry) error {
	return exec(ctx, m, t, "set", key, func(ctx context.Context) error {
		return t.Set(ctx, key, e)
	})
}

// dropStale removes copies of key from the tiers that did not take the
// write, so an older value in a faster tier cannot shadow it.
func (m *Manager) dropStale(ctx context.Context, chosen *tier, key string) {
	for _, t := range m.available() {
		if t == chosen {
			continue
		}
		err := exec(ctx, m, t, "delete", key, func(ctx context.Context) error {
			return t.Delete(ctx, key)
		})
		if err != nil && !errors.Is(err, storage.ErrNotSupported) {
			m.logger.Warn("stale copy not removed",
				append(t.attrs(), slog.String("key", key), slog.Any("error", err))...)
		}
	}
}
