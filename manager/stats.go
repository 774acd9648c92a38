package manager

import "context"

// AdapterStats describes one tier.
type AdapterStats struct {
	Type      string `json:"type"`
	Tier      string `json:"tier"`
	Available bool   `json:"available"`
	Health    string `json:"health"`
	// Usage is nil when the backend cannot measure it.
	Usage *int64 `json:"usage,omitempty"`
	// MaxSize is nil when the backend is unbounded.
	MaxSize *int64 `json:"max_size,omitempty"`
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Adapters  []AdapterStats `json:"adapters"`
	TotalKeys int            `json:"total_keys"`
}

// Stats reports every configured tier, unavailable ones included, and the
// number of distinct keys stored.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if err := m.ready(); err != nil {
		return Stats{}, err
	}
	ctx, span := m.cfg.tracing.StartOp(ctx, "stats", "")
	defer span.End()

	var st Stats
	for _, t := range m.tiers {
		as := AdapterStats{
			Type:      t.Type(),
			Tier:      t.Tier().String(),
			Available: t.Available(),
			Health:    t.br.State().String(),
		}
		if n, ok := t.MaxSize(); ok {
			as.MaxSize = &n
		}
		if as.Available {
			if n, ok := t.Usage(ctx); ok {
				as.Usage = &n
			}
		}
		st.Adapters = append(st.Adapters, as)
	}

	if keys, err := m.Keys(ctx, ""); err == nil {
		st.TotalKeys = len(keys)
	}
	return st, nil
}
