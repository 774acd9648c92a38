// Package kvstore implements the medium tier on Redis. Every record lives
// under "<prefix><key>" so several applications can share one database and
// Clear only touches this namespace.
package kvstore

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Keksclan/tiercache/retry"
	"github.com/Keksclan/tiercache/storage"
	"github.com/redis/go-redis/v9"
)

// Type is the backend name reported by [Store.Type].
const Type = "redis"

const (
	// DefaultMaxSize mirrors the quota of a small synchronous key-value store.
	DefaultMaxSize = 5 << 20
	// DefaultPrefix namespaces keys written by this package.
	DefaultPrefix = "tiercache:"

	scanCount = 256
)

// Store is the Redis-backed tier.
type Store struct {
	rdb    *redis.Client
	owned  bool
	prefix string

	maxSize int64
	tier    storage.Tier
	now     storage.Clock
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
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

// New wraps an existing client. The caller keeps ownership of rdb.
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:     rdb,
		prefix:  DefaultPrefix,
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

// Open connects to Redis and probes it with PING. When Redis cannot be
// reached the unavailable variant is returned instead of an error.
func Open(ctx context.Context, ro *redis.Options, opts ...Option) storage.Adapter {
	return storage.Detect(Type, storage.Medium, func() (storage.Adapter, error) {
		if ro == nil || ro.Addr == "" {
			return nil, errors.New("redis address not configured")
		}
		rdb := redis.NewClient(ro)
		_, err := retry.Do(ctx, retry.Probe(), func(ctx context.Context) (string, error) {
			return rdb.Ping(ctx).Result()
		})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		s := New(rdb, opts...)
		s.owned = true
		return s, nil
	})
}

func (s *Store) fail(op, key string, err error) error {
	if isOOM(err) {
		return &storage.Error{Code: storage.QuotaExceeded, Op: op, Backend: Type, Key: key, Err: err}
	}
	return storage.AdapterFailure(Type, op, key, err)
}

// isOOM reports whether Redis refused a write because maxmemory was hit.
func isOOM(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "OOM ")
}

// Get returns the entry under key.
func (s *Store) Get(ctx context.Context, key string) (*storage.Entry, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
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
		_ = s.rdb.Del(ctx, s.prefix+key).Err()
		return nil, nil
	}
	if e.Expired(s.now()) {
		_ = s.rdb.Del(ctx, s.prefix+key).Err()
		return nil, nil
	}
	return e, nil
}

// Set writes e, reclaiming space inside the quota first when needed. Redis
// is also given the remaining TTL so it can drop the record on its own.
func (s *Store) Set(ctx context.Context, key string, e *storage.Entry) error {
	raw, err := storage.Encode(e)
	if err != nil {
		return err
	}
	size := int64(len(raw))

	if s.maxSize > 0 {
		if size > s.maxSize {
			return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
		}
		if err := s.makeRoom(ctx, key, size); err != nil {
			return err
		}
	}

	var expiration time.Duration
	if e.TTL > 0 {
		expiration = e.TTLDuration() - e.Age(s.now())
		if expiration <= 0 {
			// Already expired on arrival; nothing worth storing.
			return s.Delete(ctx, key)
		}
	}
	if err := s.rdb.Set(ctx, s.prefix+key, raw, expiration).Err(); err != nil {
		return s.fail("set", key, err)
	}
	return nil
}

func (s *Store) makeRoom(ctx context.Context, key string, size int64) error {
	records, err := s.records(ctx)
	if err != nil {
		return s.fail("set", key, err)
	}

	var usage, old int64
	others := records[:0]
	for _, r := range records {
		usage += r.Size
		if r.Key == key {
			old = r.Size
			continue
		}
		others = append(others, r)
	}
	need := usage - old + size - s.maxSize
	if need <= 0 {
		return nil
	}

	plan := storage.PlanEviction(others, s.now(), need)
	if err := s.del(ctx, plan.Keys()); err != nil {
		return s.fail("evict", key, err)
	}
	s.logger.Debug("redis tier reclaimed space",
		slog.Int("expired", len(plan.Expired)),
		slog.Int("evicted", len(plan.Evicted)),
		slog.Int64("freed", plan.Freed))
	if plan.Freed < need {
		return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
	}
	return nil
}

// records loads every record in the namespace. Unreadable records are
// reported as already expired so eviction reclaims them first.
func (s *Store) records(ctx context.Context) ([]storage.Record, error) {
	full, err := s.scan(ctx, "")
	if err != nil || len(full) == 0 {
		return nil, err
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(full))
	for i, k := range full {
		cmds[i] = pipe.Get(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]storage.Record, 0, len(full))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			continue
		}
		r := storage.Record{Key: strings.TrimPrefix(full[i], s.prefix), Size: int64(len(raw))}
		if e, err := storage.Decode(raw); err == nil {
			r.Timestamp, r.TTL = e.Timestamp, e.TTL
		} else {
			r.TTL = 1
		}
		out = append(out, r)
	}
	return out, nil
}

// scan returns the full Redis keys in the namespace that start with prefix.
func (s *Store) scan(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(s.prefix+prefix) + "*"
	var keys []string
	iter := s.rdb.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *Store) del(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	return s.rdb.Del(ctx, full...).Err()
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return s.fail("delete", key, err)
	}
	return nil
}

// Has reports whether key holds an unexpired entry.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	e, err := s.Get(ctx, key)
	return e != nil, err
}

// Keys lists logical keys with the given prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	full, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, s.fail("keys", "", err)
	}
	keys := make([]string, len(full))
	for i, k := range full {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// Clear removes every key in the namespace.
func (s *Store) Clear(ctx context.Context) error {
	full, err := s.scan(ctx, "")
	if err != nil {
		return s.fail("clear", "", err)
	}
	for chunk := range slices.Chunk(full, scanCount) {
		if err := s.rdb.Unlink(ctx, chunk...).Err(); err != nil {
			return s.fail("clear", "", err)
		}
	}
	return nil
}

// CleanupExpired deletes expired and unreadable records.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	records, err := s.records(ctx)
	if err != nil {
		return 0, s.fail("cleanup", "", err)
	}
	plan := storage.ExpiredOnly(records, s.now())
	if err := s.del(ctx, plan.Keys()); err != nil {
		return 0, s.fail("cleanup", "", err)
	}
	return plan.Freed, nil
}

func (s *Store) Type() string       { return Type }
func (s *Store) Tier() storage.Tier { return s.tier }
func (s *Store) Available() bool    { return true }

func (s *Store) MaxSize() (int64, bool) {
	return s.maxSize, s.maxSize > 0
}

// Usage sums the value lengths in the namespace. It walks the whole
// namespace, so it is O(n) in the number of keys.
func (s *Store) Usage(ctx context.Context) (int64, bool) {
	full, err := s.scan(ctx, "")
	if err != nil {
		return 0, false
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(full))
	for i, k := range full {
		cmds[i] = pipe.StrLen(ctx, k)
	}
	if len(full) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, false
		}
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, true
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client when the Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
