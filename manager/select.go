package manager

import (
	"context"
	"log/slog"

	"github.com/Keksclan/tiercache/storage"
)

// selectTier returns the index in tiers of the tier an entry of size bytes
// should be written to. First match wins:
//
//  1. a tier whose ceiling is below size is never chosen;
//  2. a tier without room for size is not chosen, after it has had one
//     chance to reclaim expired entries;
//  3. the first fast tier takes entries under 100KB;
//  4. the first medium tier takes entries under its ceiling;
//  5. the first large tier takes anything left;
//  6. otherwise the first tier is used and must evict to make room.
func (m *Manager) selectTier(ctx context.Context, tiers []*tier, size int64) int {
	eligible := make([]int, 0, len(tiers))
	for i, t := range tiers {
		if m.fits(ctx, t, size) {
			eligible = append(eligible, i)
		}
	}

	for _, i := range eligible {
		if tiers[i].Tier() == storage.Fast && size < storage.LargeEntryThreshold {
			return i
		}
	}
	for _, i := range eligible {
		t := tiers[i]
		if t.Tier() != storage.Medium {
			continue
		}
		if ceiling, ok := t.MaxSize(); !ok || size < ceiling {
			return i
		}
	}
	for _, i := range eligible {
		if tiers[i].Tier() == storage.Large {
			return i
		}
	}
	return 0
}

// fits applies rules 1 and 2 to t.
func (m *Manager) fits(ctx context.Context, t *tier, size int64) bool {
	ceiling, bounded := t.MaxSize()
	if !bounded {
		return true
	}
	if ceiling < size {
		return false
	}
	if m.hasRoom(ctx, t, ceiling, size) {
		return true
	}

	r, ok := t.Adapter.(storage.Reclaimer)
	if !ok {
		return false
	}
	freed, err := run(ctx, m, t, "cleanup", "", r.CleanupExpired)
	if err != nil {
		m.logger.Warn("expired cleanup failed", append(t.attrs(), slog.Any("error", err))...)
		return false
	}
	if freed == 0 {
		return false
	}
	m.logger.Debug("reclaimed expired entries",
		append(t.attrs(), slog.Int64("size", freed))...)
	return m.hasRoom(ctx, t, ceiling, size)
}

// hasRoom reports whether usage+size stays within ceiling. Tiers that cannot
// measure usage are assumed to have room.
func (m *Manager) hasRoom(ctx context.Context, t *tier, ceiling, size int64) bool {
	type usage struct {
		n  int64
		ok bool
	}
	u, err := run(ctx, m, t, "usage", "", func(ctx context.Context) (usage, error) {
		n, ok := t.Usage(ctx)
		return usage{n, ok}, nil
	})
	if err != nil || !u.ok {
		return err == nil
	}
	return u.n+size <= ceiling
}
