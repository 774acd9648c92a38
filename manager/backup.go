package manager

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Keksclan/tiercache/storage"
)

// pendingCopy orders queued backup copies of one key against later writes.
// Set, Delete and Clear bump gen; a copy whose gen is stale is dropped.
type pendingCopy struct {
	// mu is held while a copy is written, so a bump either lands before the
	// copy is checked or waits for it to finish.
	mu   sync.Mutex
	gen  atomic.Uint64
	refs int
}

func (m *Manager) track(key string) (*pendingCopy, uint64) {
	m.copiesMu.Lock()
	defer m.copiesMu.Unlock()
	if m.copies == nil {
		m.copies = make(map[string]*pendingCopy)
	}
	p := m.copies[key]
	if p == nil {
		p = &pendingCopy{}
		m.copies[key] = p
	}
	p.refs++
	return p, p.gen.Load()
}

func (m *Manager) untrack(key string, p *pendingCopy) {
	m.copiesMu.Lock()
	defer m.copiesMu.Unlock()
	p.refs--
	if p.refs == 0 && m.copies[key] == p {
		delete(m.copies, key)
	}
}

// supersede invalidates queued copies of key.
func (m *Manager) supersede(key string) {
	m.copiesMu.Lock()
	p := m.copies[key]
	m.copiesMu.Unlock()
	if p != nil {
		p.bump()
	}
}

// supersedeAll invalidates every queued copy.
func (m *Manager) supersedeAll() {
	m.copiesMu.Lock()
	stale := make([]*pendingCopy, 0, len(m.copies))
	for _, p := range m.copies {
		stale = append(stale, p)
	}
	m.copiesMu.Unlock()
	for _, p := range stale {
		p.bump()
	}
}

func (p *pendingCopy) bump() {
	p.mu.Lock()
	p.gen.Add(1)
	p.mu.Unlock()
}

// backup copies a large entry to the large tier on the backup pool. The copy
// is detached from the caller: it outlives ctx cancellation, is throttled by
// the byte budget, and its failure is logged and counted, never returned.
// A copy overtaken by a later write of the same key is skipped.
func (m *Manager) backup(ctx context.Context, key string, e *storage.Entry, size int64) {
	var target *tier
	for _, t := range m.usable() {
		if t.Tier() == storage.Large {
			target = t
			break
		}
	}
	if target == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	p, gen := m.track(key)
	m.backups.Add(1)
	err := m.pool.Submit(func() {
		defer m.backups.Done()
		defer m.untrack(key, p)

		ctx, cancel := context.WithTimeout(ctx, m.cfg.backupTimeout)
		defer cancel()

		if err := m.budget.Wait(ctx, size); err != nil {
			m.backupFailed(target, key, "throttled", err)
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen.Load() != gen {
			m.metrics.backups.WithLabelValues("superseded").Inc()
			return
		}
		if err := m.write(ctx, target, key, e); err != nil {
			m.backupFailed(target, key, "error", err)
			return
		}
		m.metrics.backups.WithLabelValues("ok").Inc()
	})
	if err != nil {
		m.untrack(key, p)
		m.backups.Done()
		m.backupFailed(target, key, "rejected", err)
	}
}

func (m *Manager) backupFailed(t *tier, key, result string, err error) {
	m.metrics.backups.WithLabelValues(result).Inc()
	m.logger.Warn("backup copy failed",
		append(t.attrs(), slog.String("key", key), slog.String("result", result), slog.Any("error", err))...)
}
