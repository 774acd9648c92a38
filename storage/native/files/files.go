// Package files implements the native large tier as one JSON document per key
// under a cache directory.
package files

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Keksclan/tiercache/storage"
)

// Type is the backend name reported by [Store.Type].
const Type = "files"

const (
	// DefaultMaxSize is the quota of the native large tier.
	DefaultMaxSize = 100 << 20

	ext            = ".json"
	defaultDirPerm = 0o700

	// maxNameLen is the portable file name limit. Keys whose escaped name
	// would exceed it are stored under a digest name instead.
	maxNameLen = 255
	// digestMark starts digest names. QueryEscape always escapes it, so an
	// escaped key can never collide with a digest name.
	digestMark = "#"
)

// Store keeps entries as files named after their escaped key.
type Store struct {
	dir     string
	dirPerm os.FileMode

	// mu serializes writes so quota accounting sees a stable directory.
	mu sync.Mutex

	maxSize int64
	tier    storage.Tier
	now     storage.Clock
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSize sets the byte quota. Zero or negative means unbounded.
func WithMaxSize(n int64) Option {
	return func(s *Store) { s.maxSize = n }
}

// WithTier overrides the tier class (Large by default).
func WithTier(t storage.Tier) Option {
	return func(s *Store) { s.tier = t }
}

// WithDirPerm sets the permissions used when creating the cache directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) { s.dirPerm = mode }
}

// WithClock injects the time source used for expiry checks.
func WithClock(now storage.Clock) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger for corrupt-file and eviction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	s := &Store{
		dir:     dir,
		dirPerm: defaultDirPerm,
		maxSize: DefaultMaxSize,
		tier:    storage.Large,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	return s, nil
}

// Open is New wrapped in availability detection.
func Open(dir string, opts ...Option) storage.Adapter {
	return storage.Detect(Type, storage.Large, func() (storage.Adapter, error) {
		return New(dir, opts...)
	})
}

// fileName returns the file name for key and whether it is a digest name. A
// digest file starts with the escaped key on its own line.
func fileName(key string) (string, bool) {
	n := url.QueryEscape(key) + ext
	if len(n) <= maxNameLen {
		return n, false
	}
	sum := sha256.Sum256([]byte(key))
	return digestMark + hex.EncodeToString(sum[:]) + ext, true
}

func (s *Store) path(key string) string {
	n, _ := fileName(key)
	return filepath.Join(s.dir, n)
}

// body strips the key header from a digest file. ok is false when the file
// belongs to another key or has no header.
func body(key string, raw []byte) ([]byte, bool) {
	if _, digest := fileName(key); !digest {
		return raw, true
	}
	head, rest, found := bytes.Cut(raw, []byte("\n"))
	if !found || string(head) != url.QueryEscape(key) {
		return nil, false
	}
	return rest, true
}

// storedKey recovers the logical key of the file called n.
func (s *Store) storedKey(n string) (string, bool) {
	base, ok := strings.CutSuffix(n, ext)
	if !ok {
		return "", false
	}
	if !strings.HasPrefix(base, digestMark) {
		k, err := url.QueryUnescape(base)
		return k, err == nil
	}
	f, err := os.Open(filepath.Join(s.dir, n))
	if err != nil {
		return "", false
	}
	defer f.Close()
	head, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		return "", false
	}
	k, err := url.QueryUnescape(strings.TrimSuffix(head, "\n"))
	if err != nil {
		return "", false
	}
	if want, _ := fileName(k); want != n {
		return "", false
	}
	return k, true
}

// Get returns the entry under key.
func (s *Store) Get(ctx context.Context, key string) (*storage.Entry, error) {
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.AdapterFailure(Type, "get", key, err)
	}

	raw, ok := body(key, raw)
	if !ok {
		return nil, nil
	}
	e, err := storage.Decode(raw)
	if err != nil {
		s.logger.Warn("dropping corrupt file",
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

// Set writes e atomically through a temp file and rename.
func (s *Store) Set(ctx context.Context, key string, e *storage.Entry) error {
	raw, err := storage.Encode(e)
	if err != nil {
		return err
	}
	if _, digest := fileName(key); digest {
		raw = append([]byte(url.QueryEscape(key)+"\n"), raw...)
	}
	size := int64(len(raw))
	if s.maxSize > 0 && size > s.maxSize {
		return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSize > 0 {
		if err := s.makeRoom(ctx, key, size); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(s.dir, "cache-*")
	if err != nil {
		return s.fail("set", key, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return s.fail("set", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return s.fail("set", key, err)
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return s.fail("set", key, err)
	}
	return nil
}

func (s *Store) fail(op, key string, err error) error {
	if isNoSpace(err) {
		return &storage.Error{Code: storage.QuotaExceeded, Op: op, Backend: Type, Key: key, Err: err}
	}
	return storage.AdapterFailure(Type, op, key, err)
}

func (s *Store) makeRoom(ctx context.Context, key string, size int64) error {
	records, err := s.records(ctx, key)
	if err != nil {
		return s.fail("evict", key, err)
	}
	var usage int64
	for _, r := range records {
		usage += r.Size
	}
	need := usage + size - s.maxSize
	if need <= 0 {
		return nil
	}

	plan := storage.PlanEviction(records, s.now(), need)
	if plan.Freed < need {
		return &storage.Error{Code: storage.QuotaExceeded, Op: "set", Backend: Type, Key: key}
	}
	for _, k := range plan.Keys() {
		if err := s.remove(k); err != nil {
			return s.fail("evict", k, err)
		}
	}
	s.logger.Debug("file tier reclaimed space",
		slog.Int("expired", len(plan.Expired)),
		slog.Int("evicted", len(plan.Evicted)),
		slog.Int64("freed", plan.Freed))
	return nil
}

// records reads every entry file except exclude, oldest write first.
func (s *Store) records(ctx context.Context, exclude string) ([]storage.Record, error) {
	keys, err := s.list("")
	if err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if k == exclude {
			continue
		}
		raw, err := os.ReadFile(s.path(k))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// Unreadable files count as expired so they are reclaimed first.
		r := storage.Record{Key: k, Size: int64(len(raw)), TTL: 1}
		if b, ok := body(k, raw); ok {
			if e, err := storage.Decode(b); err == nil {
				r.Timestamp, r.TTL = e.Timestamp, e.TTL
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *Store) list(prefix string) ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		k, ok := s.storedKey(d.Name())
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.remove(key); err != nil {
		return storage.AdapterFailure(Type, "delete", key, err)
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
	keys, err := s.list(prefix)
	if err != nil {
		return nil, storage.AdapterFailure(Type, "keys", "", err)
	}
	return keys, nil
}

// Clear removes every entry file. Foreign files in the directory are left
// alone.
func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.list("")
	if err != nil {
		return storage.AdapterFailure(Type, "clear", "", err)
	}
	for _, k := range keys {
		if err := s.remove(k); err != nil {
			return storage.AdapterFailure(Type, "clear", k, err)
		}
	}
	return nil
}

// CleanupExpired deletes expired files and returns the bytes freed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records(ctx, "")
	if err != nil {
		return 0, storage.AdapterFailure(Type, "cleanup", "", err)
	}
	plan := storage.ExpiredOnly(records, s.now())
	for _, k := range plan.Expired {
		if err := s.remove(k); err != nil {
			return 0, storage.AdapterFailure(Type, "cleanup", k, err)
		}
	}
	return plan.Freed, nil
}

func (s *Store) Type() string       { return Type }
func (s *Store) Tier() storage.Tier { return s.tier }
func (s *Store) Available() bool    { return true }

func (s *Store) MaxSize() (int64, bool) {
	return s.maxSize, s.maxSize > 0
}

// Usage sums the sizes of the entry files.
func (s *Store) Usage(context.Context) (int64, bool) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, false
	}
	var n int64
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		n += info.Size()
	}
	return n, true
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }
