// Package docstore implements the large tier on SQLite: one row per entry,
// keyed by (namespace, key) and indexed by write timestamp so eviction scans
// read oldest-first straight off the index.
package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Keksclan/tiercache/storage"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Type is the backend name reported by [Store.Type].
const Type = "sqlite"

const (
	// DefaultMaxSize is the quota of the large document tier.
	DefaultMaxSize = 100 << 20
	// DefaultNamespace scopes rows written by this package.
	DefaultNamespace = "tiercache"
)

//go:embed schema.sql
var schema string

// Store is the SQLite-backed tier.
type Store struct {
	db        *sql.DB
	owned     bool
	namespace string

	// mu serializes writes so the usage check and the insert see the same
	// table state.
	mu sync.Mutex

	maxSize int64
	tier    storage.Tier
	now     storage.Clock
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace scopes the store to a namespace inside the table.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// WithMaxSize sets the byte quota. Zero or negative means unbounded.
func WithMaxSize(n int64) Option {
	return func(s *Store) { s.maxSize = n }
}

// WithTier overrides the tier class (Large by default).
func WithTier(t storage.Tier) Option {
	return func(s *Store) { s.tier = t }
}

// WithClock injects the time source used for expiry checks.
func WithClock(now storage.Clock) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger for corrupt-row and eviction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New prepares the schema on db and returns a Store using it. The caller
// keeps ownership of db.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:        db,
		namespace: DefaultNamespace,
		maxSize:   DefaultMaxSize,
		tier:      storage.Large,
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	for stmt := range strings.SplitSeq(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return s, nil
}

// OpenFile opens (or creates) the SQLite database at path.
func OpenFile(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Open is OpenFile wrapped in availability detection.
func Open(ctx context.Context, path string, opts ...Option) storage.Adapter {
	return storage.Detect(Type, storage.Large, func() (storage.Adapter, error) {
		return OpenFile(ctx, path, opts...)
	})
}

func (s *Store) fail(op, key string, err error) error {
	var se *msqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3lib.SQLITE_FULL {
		return &storage.Error{Code: storage.QuotaExceeded, Op: op, Backend: Type, Key: key, Err: err}
	}
	return storage.AdapterFailure(Type, op, key, err)
}

// Get returns the entry under key.
func (s *Store) Get(ctx context.Context, key string) (*storage.Entry, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get", key, err)
	}

	e, err := storage.Decode(raw)
	if err != nil {
		s.logger.Warn("dropping corrupt row",
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

// Set upserts e inside a transaction that first reclaims room in the quota.
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("set", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.maxSize > 0 {
		if err := s.makeRoom(ctx, tx, key, size); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (namespace, key, value, timestamp, ttl, version, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET
		   value = excluded.value,
		   timestamp = excluded.timestamp,
		   ttl = excluded.ttl,
		   version = excluded.version,
		   size = excluded.size`,
		s.namespace, key, raw, e.Timestamp, e.TTL, e.Version, size,
	)
	if err != nil {
		return s.fail("set", key, err)
	}
	if err := tx.Commit(); err != nil {
		return s.fail("set", key, err)
	}
	return nil
}

func (s *Store) makeRoom(ctx context.Context, tx *sql.Tx, key string, size int64) error {
	var usage int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM entries WHERE namespace = ? AND key <> ?`,
		s.namespace, key,
	).Scan(&usage)
	if err != nil {
		return s.fail("set", key, err)
	}
	need := usage + size - s.maxSize
	if need <= 0 {
		return nil
	}

	records, err := s.records(ctx, tx, key)
	if err != nil {
		return s.fail("evict", key, err)
	}
	plan := storage.PlanEviction(records, s.now(), need)
	if err := s.deleteKeys(ctx, tx, plan.Keys()); err != nil {
		return s.fail("evict", key, err)
	}
	s.logger.Debug("sqlite tier reclaimed space",
		slog.Int("expired", len(plan.Expired)),
		slog.Int("evicted", len(plan.Evicted)),
		slog.Int64("freed", plan.Freed))
	if plan.Freed < need {
		return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// records lists every row except exclude, oldest write first.
func (s *Store) records(ctx context.Context, q querier, exclude string) ([]storage.Record, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT key, timestamp, ttl, size FROM entries
		 WHERE namespace = ? AND key <> ?
		 ORDER BY timestamp ASC`,
		s.namespace, exclude,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var r storage.Record
		if err := rows.Scan(&r.Key, &r.Timestamp, &r.TTL, &r.Size); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) deleteKeys(ctx context.Context, q querier, keys []string) error {
	for _, k := range keys {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM entries WHERE namespace = ? AND key = ?`, s.namespace, k,
		); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE namespace = ? AND key = ?`, s.namespace, key,
	); err != nil {
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
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM entries
		 WHERE namespace = ? AND substr(key, 1, length(?)) = ?
		 ORDER BY key`,
		s.namespace, prefix, prefix,
	)
	if err != nil {
		return nil, s.fail("keys", "", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, s.fail("keys", "", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("keys", "", err)
	}
	return keys, nil
}

// Clear removes every row in the namespace.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE namespace = ?`, s.namespace,
	); err != nil {
		return s.fail("clear", "", err)
	}
	return nil
}

// CleanupExpired deletes expired rows and returns the bytes freed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records(ctx, s.db, "")
	if err != nil {
		return 0, s.fail("cleanup", "", err)
	}
	plan := storage.ExpiredOnly(records, s.now())
	if err := s.deleteKeys(ctx, s.db, plan.Keys()); err != nil {
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

func (s *Store) Usage(ctx context.Context) (int64, bool) {
	var usage int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM entries WHERE namespace = ?`, s.namespace,
	).Scan(&usage)
	if err != nil {
		return 0, false
	}
	return usage, true
}

// Close closes the database when the Store opened it.
func (s *Store) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}
