// Package prefs implements the native medium tier on an embedded Badger
// database, the process-local counterpart of a small preferences store.
package prefs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Keksclan/tiercache/storage"
	"github.com/dgraph-io/badger/v4"
)

// Type is the backend name reported by [Store.Type].
const Type = "badger"

const (
	// DefaultMaxSize is the quota of the native medium tier.
	DefaultMaxSize = 5 << 20
	// DefaultPrefix namespaces keys written by this package.
	DefaultPrefix = "tiercache:"
)

// Store is the Badger-backed tier.
type Store struct {
	db     *badger.DB
	owned  bool
	prefix []byte

	// mu serializes writes so quota accounting sees a stable key set.
	mu sync.Mutex

	maxSize int64
	tier    storage.Tier
	now     storage.Clock
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = []byte(p) }
}

// WithMaxSize sets the byte quota. Zero or negative means unbounded.
func WithMaxSize(n int64) Option {
	return func(s *Store) { s.maxSize = n }
}

// WithTier overrides the tier class (Medium by default).
func WithTier(t storage.Tier) Option {
	return func(s *Store) { s.tier = t }
}

// WithClock injects the time source used for expiry checks.
func WithClock(now storage.Clock) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger for corrupt-record and eviction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		prefix:  []byte(DefaultPrefix),
		maxSize: DefaultMaxSize,
		tier:    storage.Medium,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenDir opens a Badger database in dir. An empty dir keeps the database in
// memory.
func OpenDir(dir string, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// Open is OpenDir wrapped in availability detection.
func Open(dir string, opts ...Option) storage.Adapter {
	return storage.Detect(Type, storage.Medium, func() (storage.Adapter, error) {
		return OpenDir(dir, opts...)
	})
}

func (s *Store) key(k string) []byte {
	return append(bytes.Clone(s.prefix), k...)
}

func (s *Store) fail(op, key string, err error) error {
	if errors.Is(err, badger.ErrTxnTooBig) {
		return &storage.Error{Code: storage.QuotaExceeded, Op: op, Backend: Type, Key: key, Err: err}
	}
	return storage.AdapterFailure(Type, op, key, err)
}

// Get returns the entry under key.
func (s *Store) Get(ctx context.Context, key string) (*storage.Entry, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get", key, err)
	}

	e, err := storage.Decode(raw)
	if err != nil {
		s.logger.Warn("dropping corrupt record",
			slog.String("store_type", Type),
			slog.String("key", key),
			slog.Any("error", err))
		_ = s.Delete(ctx, key)
		return nil, nil
	}
	if e.Expired(s.now()) {
		_ = s.Delete(ctx, key)
		return nil, nil
	}
	return e, nil
}

// Set stores e under key. The entry TTL is mirrored into Badger so the value
// log can reclaim expired records on its own.
func (s *Store) Set(ctx context.Context, key string, e *storage.Entry) error {
	raw, err := storage.Encode(e)
	if err != nil {
		return err
	}
	size := int64(len(raw))
	if s.maxSize > 0 && size > s.maxSize {
		return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var evict []string
	if s.maxSize > 0 {
		records, err := s.records(key)
		if err != nil {
			return s.fail("set", key, err)
		}
		var usage int64
		for _, r := range records {
			usage += r.Size
		}
		if need := usage + size - s.maxSize; need > 0 {
			plan := storage.PlanEviction(records, s.now(), need)
			if plan.Freed < need {
				return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
			}
			evict = plan.Keys()
			s.logger.Debug("badger tier reclaiming space",
				slog.Int("expired", len(plan.Expired)),
				slog.Int("evicted", len(plan.Evicted)),
				slog.Int64("freed", plan.Freed))
		}
	}

	be := badger.NewEntry(s.key(key), raw)
	if e.TTL > 0 {
		remaining := e.TTLDuration() - e.Age(s.now())
		if remaining <= 0 {
			return s.Delete(ctx, key)
		}
		be.ExpiresAt = badgerExpiry(time.Now().Add(remaining))
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, k := range evict {
			if err := txn.Delete(s.key(k)); err != nil {
				return err
			}
		}
		return txn.SetEntry(be)
	})
	if err != nil {
		return s.fail("set", key, err)
	}
	return nil
}

// badgerExpiry converts deadline to Badger's whole-second ExpiresAt, rounded
// up so Badger never drops a record before the envelope itself expires.
func badgerExpiry(deadline time.Time) uint64 {
	return uint64(deadline.Unix()) + 1
}

// records lists every stored entry except exclude, oldest write first.
func (s *Store) records(exclude string) ([]storage.Record, error) {
	var out []storage.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			k := string(item.Key()[len(s.prefix):])
			if k == exclude {
				continue
			}
			err := item.Value(func(val []byte) error {
				r := storage.Record{Key: k, Size: int64(len(val))}
				if e, err := storage.Decode(val); err == nil {
					r.Timestamp, r.TTL = e.Timestamp, e.TTL
				} else {
					r.TTL = 1
				}
				out = append(out, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	if err != nil {
		return s.fail("delete", key, err)
	}
	return nil
}

// Has reports whether key holds an unexpired entry.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	e, err := s.Get(ctx, key)
	return e != nil, err
}

// Keys lists keys with the given prefix in sorted order.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.key(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(s.prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("keys", "", err)
	}
	return keys, nil
}

// Clear drops every key in the namespace.
func (s *Store) Clear(context.Context) error {
	if err := s.db.DropPrefix(s.prefix); err != nil {
		return s.fail("clear", "", err)
	}
	return nil
}

// CleanupExpired deletes expired records and returns the bytes freed.
func (s *Store) CleanupExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records("")
	if err != nil {
		return 0, s.fail("cleanup", "", err)
	}
	plan := storage.ExpiredOnly(records, s.now())
	if len(plan.Expired) == 0 {
		return 0, nil
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, k := range plan.Expired {
			if err := txn.Delete(s.key(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, s.fail("cleanup", "", err)
	}
	return plan.Freed, nil
}

func (s *Store) Type() string       { return Type }
func (s *Store) Tier() storage.Tier { return s.tier }
func (s *Store) Available() bool    { return !s.db.IsClosed() }

func (s *Store) MaxSize() (int64, bool) {
	return s.maxSize, s.maxSize > 0
}

func (s *Store) Usage(context.Context) (int64, bool) {
	records, err := s.records("")
	if err != nil {
		return 0, false
	}
	var n int64
	for _, r := range records {
		n += r.Size
	}
	return n, true
}

// Close closes the database when the Store opened it.
func (s *Store) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}
