package tiercache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Keksclan/tiercache/manager"
	"github.com/Keksclan/tiercache/netinfo"
	"github.com/Keksclan/tiercache/policy"
	"github.com/Keksclan/tiercache/storage"
	"github.com/Keksclan/tiercache/storage/docstore"
	"github.com/Keksclan/tiercache/storage/kvstore"
	"github.com/Keksclan/tiercache/storage/memory"
	"github.com/Keksclan/tiercache/storage/native/files"
	"github.com/Keksclan/tiercache/storage/native/prefs"
	"github.com/redis/go-redis/v9"
)

// ErrNotConfigured is returned by Default before Init has been called.
var ErrNotConfigured = manager.ErrNotConfigured

type settings struct {
	logger   *slog.Logger
	probe    *netinfo.Probe
	resolver *policy.Resolver
	extra    []manager.Option
}

// Option customises composition beyond what Config covers.
type Option func(*settings)

// WithLogger is passed to the manager and every adapter.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProbe supplies the connection probe. Without one, a probe built from
// TIERCACHE_NET_* variables is used when Config.ConnectionAware is set.
func WithProbe(p *netinfo.Probe) Option {
	return func(s *settings) { s.probe = p }
}

// WithPolicy replaces the default key policy. A nil resolver disables
// policy lookups.
func WithPolicy(r *policy.Resolver) Option {
	return func(s *settings) { s.resolver = r }
}

// WithManagerOptions appends manager options. They are applied after the
// ones derived from Config and win on conflict.
func WithManagerOptions(opts ...manager.Option) Option {
	return func(s *settings) { s.extra = append(s.extra, opts...) }
}

func newSettings(opts []Option) *settings {
	s := &settings{
		logger:   slog.New(slog.DiscardHandler),
		resolver: policy.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewWeb composes memory, Redis and SQLite tiers. Redis is unavailable when
// Config.Redis.Addr is empty or the server does not answer.
func NewWeb(ctx context.Context, cfg Config, opts ...Option) (*manager.Manager, error) {
	s := newSettings(opts)
	ro := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	adapters := []storage.Adapter{
		newMemory(cfg, s),
		kvstore.Open(ctx, ro,
			kvstore.WithPrefix(cfg.Namespace),
			kvstore.WithMaxSize(int64(cfg.Redis.MaxSize)),
			kvstore.WithLogger(s.logger),
		),
		docstore.Open(ctx, cfg.SQLite.Path,
			docstore.WithNamespace(strings.TrimSuffix(cfg.Namespace, ":")),
			docstore.WithMaxSize(int64(cfg.SQLite.MaxSize)),
			docstore.WithLogger(s.logger),
		),
	}
	return compose(cfg, s, adapters)
}

// NewNative composes memory, Badger and file-directory tiers rooted at
// Config.DataDir.
func NewNative(_ context.Context, cfg Config, opts ...Option) (*manager.Manager, error) {
	s := newSettings(opts)
	adapters := []storage.Adapter{
		newMemory(cfg, s),
		prefs.Open(filepath.Join(cfg.DataDir, "prefs"),
			prefs.WithPrefix(cfg.Namespace),
			prefs.WithMaxSize(int64(cfg.PrefsMaxSize)),
			prefs.WithLogger(s.logger),
		),
		files.Open(filepath.Join(cfg.DataDir, "files"),
			files.WithMaxSize(int64(cfg.FilesMaxSize)),
			files.WithLogger(s.logger),
		),
	}
	return compose(cfg, s, adapters)
}

func newMemory(cfg Config, s *settings) storage.Adapter {
	return memory.New(
		memory.WithMaxSize(int64(cfg.MemoryMaxSize)),
		memory.WithLogger(s.logger),
	)
}

func compose(cfg Config, s *settings, adapters []storage.Adapter) (*manager.Manager, error) {
	for _, a := range adapters {
		if u, ok := a.(*storage.Unavailable); ok {
			s.logger.Warn("tier unavailable",
				slog.String("store_type", u.Type()),
				slog.String("tier", u.Tier().String()),
				slog.Any("error", u.Reason()))
		}
	}

	probe := s.probe
	if probe == nil && cfg.ConnectionAware {
		src, err := netinfo.FromEnv()
		if err != nil {
			closeAll(adapters)
			return nil, fmt.Errorf("connection probe: %w", err)
		}
		probe = netinfo.NewProbe(src)
	}

	mopts := []manager.Option{
		manager.WithDefaultTTL(cfg.DefaultTTL),
		manager.WithAutoMigrate(cfg.AutoMigrate),
		manager.WithVersion(cfg.Version),
		manager.WithOperationTimeout(cfg.OperationTimeout),
		manager.WithBackupWorkers(cfg.BackupWorkers),
		manager.WithBackupRate(int64(cfg.BackupRate)),
		manager.WithPolicy(s.resolver),
		manager.WithLogger(s.logger),
	}
	if cfg.ConnectionAware {
		mopts = append(mopts, manager.WithConnectionAware(probe))
	}
	mopts = append(mopts, s.extra...)

	m, err := manager.New(adapters, mopts...)
	if err != nil {
		closeAll(adapters)
		return nil, err
	}
	return m, nil
}

func closeAll(adapters []storage.Adapter) {
	for _, a := range adapters {
		if c, ok := a.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

var (
	defaultMu sync.RWMutex
	defaultM  *manager.Manager
)

// Init installs m as the process-wide manager returned by Default and
// returns the previous one, if any. Only composition roots should call it.
func Init(m *manager.Manager) *manager.Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultM
	defaultM = m
	return prev
}

// Default returns the manager installed by Init.
func Default() (*manager.Manager, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultM == nil {
		return nil, ErrNotConfigured
	}
	return defaultM, nil
}

// Reset clears the process-wide manager and closes it.
func Reset(ctx context.Context) error {
	prev := Init(nil)
	if prev == nil {
		return nil
	}
	if err := prev.Close(ctx); err != nil && !errors.Is(err, manager.ErrClosed) {
		return err
	}
	return nil
}
