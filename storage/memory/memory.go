// Package memory implements the in-process tier: a map keyed directly by the
// logical key with a running byte counter, so usage queries are O(1).
package memory

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Keksclan/tiercache/storage"
)

// Type is the backend name reported by [Store.Type].
const Type = "memory"

// DefaultMaxSize is the byte ceiling used when none is configured.
const DefaultMaxSize = 10 << 20

type item struct {
	entry *storage.Entry
	size  int64
}

// Store is the memory tier. It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	items map[string]item
	usage int64

	maxSize int64
	tier    storage.Tier
	now     storage.Clock
	logger  *slog.Logger
}

// Option configures a memory Store.
type Option func(*Store)

// WithMaxSize sets the byte ceiling. Zero or negative means unbounded.
func WithMaxSize(n int64) Option {
	return func(s *Store) { s.maxSize = n }
}

// WithTier overrides the tier class (Fast by default).
func WithTier(t storage.Tier) Option {
	return func(s *Store) { s.tier = t }
}

// WithClock injects the time source used for expiry checks.
func WithClock(now storage.Clock) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty memory Store.
func New(opts ...Option) *Store {
	s := &Store{
		items:   make(map[string]item),
		maxSize: DefaultMaxSize,
		tier:    storage.Fast,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func clone(e *storage.Entry) *storage.Entry {
	c := *e
	c.Data = slices.Clone(e.Data)
	return &c
}

// Get returns a copy of the entry under key.
func (s *Store) Get(ctx context.Context, key string) (*storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	if it.entry.Expired(s.now()) {
		s.removeLocked(key)
		return nil, nil
	}
	return clone(it.entry), nil
}

// Set stores a copy of e, evicting expired and then oldest entries when the
// write would overflow the ceiling.
func (s *Store) Set(ctx context.Context, key string, e *storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	size, err := storage.EncodedSize(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize > 0 && size > s.maxSize {
		return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
	}

	projected := s.usage - s.items[key].size + size
	if s.maxSize > 0 && projected > s.maxSize {
		s.reclaimLocked(key, projected-s.maxSize)
		projected = s.usage - s.items[key].size + size
		if projected > s.maxSize {
			return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
		}
	}

	s.removeLocked(key)
	s.items[key] = item{entry: clone(e), size: size}
	s.usage += size
	return nil
}

// reclaimLocked frees at least need bytes without touching key.
func (s *Store) reclaimLocked(key string, need int64) {
	records := make([]storage.Record, 0, len(s.items))
	for k, it := range s.items {
		if k == key {
			continue
		}
		records = append(records, storage.Record{
			Key:       k,
			Timestamp: it.entry.Timestamp,
			TTL:       it.entry.TTL,
			Size:      it.size,
		})
	}
	plan := storage.PlanEviction(records, s.now(), need)
	for _, k := range plan.Keys() {
		s.removeLocked(k)
	}
	if len(plan.Evicted) > 0 || len(plan.Expired) > 0 {
		s.logger.Debug("memory tier reclaimed space",
			slog.Int("expired", len(plan.Expired)),
			slog.Int("evicted", len(plan.Evicted)),
			slog.Int64("freed", plan.Freed))
	}
}

func (s *Store) removeLocked(key string) {
	if it, ok := s.items[key]; ok {
		s.usage -= it.size
		delete(s.items, key)
	}
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.removeLocked(key)
	s.mu.Unlock()
	return nil
}

// Has reports whether key holds an unexpired entry.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	e, err := s.Get(ctx, key)
	return e != nil, err
}

// Keys returns the stored keys with the given prefix in sorted order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Clear drops every entry.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = make(map[string]item)
	s.usage = 0
	s.mu.Unlock()
	return nil
}

// CleanupExpired drops expired entries and returns the bytes freed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var freed int64
	for k, it := range s.items {
		if it.entry.Expired(now) {
			freed += it.size
			s.removeLocked(k)
		}
	}
	return freed, nil
}

func (s *Store) Type() string       { return Type }
func (s *Store) Tier() storage.Tier { return s.tier }
func (s *Store) Available() bool    { return true }

func (s *Store) MaxSize() (int64, bool) {
	return s.maxSize, s.maxSize > 0
}

func (s *Store) Usage(context.Context) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, true
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
