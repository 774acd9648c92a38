package manager

import (
	"log/slog"
	"time"

	"github.com/Keksclan/tiercache/breaker"
	"github.com/Keksclan/tiercache/netinfo"
	"github.com/Keksclan/tiercache/policy"
	"github.com/Keksclan/tiercache/tracing"
	"github.com/Keksclan/tiercache/validator"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTTL applies when neither the caller nor the key policy sets one.
const DefaultTTL = 5 * time.Minute

const (
	defaultBackupWorkers = 4
	defaultBackupTimeout = 30 * time.Second
)

type config struct {
	defaultTTL      time.Duration
	connectionAware bool
	autoMigrate     bool
	version         string
	opTimeout       time.Duration

	probe     *netinfo.Probe
	resolver  *policy.Resolver
	validator *validator.Validator
	breaker   breaker.Config

	backupWorkers int
	backupTimeout time.Duration
	backupRate    int64

	logger   *slog.Logger
	registry prometheus.Registerer
	tracing  *tracing.Config
	now      func() time.Time
}

func defaultConfig() config {
	return config{
		defaultTTL:    DefaultTTL,
		autoMigrate:   true,
		breaker:       breaker.DefaultConfig(),
		backupWorkers: defaultBackupWorkers,
		backupTimeout: defaultBackupTimeout,
		logger:        slog.New(slog.DiscardHandler),
		now:           time.Now,
	}
}

// Option configures a Manager.
type Option func(*config)

// WithDefaultTTL sets the TTL used when Set has none and no key policy
// matches. Zero means entries never expire by time.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = max(d, 0) }
}

// WithConnectionAware scales TTLs by the probe's cache-duration multiplier.
// A nil probe disables scaling.
func WithConnectionAware(p *netinfo.Probe) Option {
	return func(c *config) {
		c.probe = p
		c.connectionAware = p != nil
	}
}

// WithAutoMigrate toggles the background copy of large entries to the large
// tier. It is on by default.
func WithAutoMigrate(on bool) Option {
	return func(c *config) { c.autoMigrate = on }
}

// WithVersion sets the schema version stamped on new entries. Entries
// carrying another version read as absent.
func WithVersion(v string) Option {
	return func(c *config) { c.version = v }
}

// WithValidator replaces the validator. Its version wins over WithVersion.
func WithValidator(v *validator.Validator) Option {
	return func(c *config) { c.validator = v }
}

// WithPolicy sets the key policy consulted for TTLs.
func WithPolicy(r *policy.Resolver) Option {
	return func(c *config) { c.resolver = r }
}

// WithOperationTimeout bounds every backend call. A call that does not
// return in time counts as a backend failure: a miss on reads, a retry on
// writes.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *config) { c.opTimeout = d }
}

// WithBreaker sets the per-tier health policy.
func WithBreaker(cfg breaker.Config) Option {
	return func(c *config) { c.breaker = cfg }
}

// WithBackupWorkers sizes the pool that runs background copies.
func WithBackupWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.backupWorkers = n
		}
	}
}

// WithBackupRate caps background copies at bytesPerSec. Zero is unlimited.
func WithBackupRate(bytesPerSec int64) Option {
	return func(c *config) { c.backupRate = bytesPerSec }
}

// WithBackupTimeout bounds a single background copy.
func WithBackupTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.backupTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics registers the manager's collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) { c.registry = reg }
}

// WithTracing enables spans around manager operations.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) { c.tracing = cfg }
}

// WithClock injects the time source for wrapping and validation.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
