// Package breaker tracks the health of one storage tier so the manager can
// stop routing traffic to a backend that keeps failing.
//
// States:
//   - Closed: calls flow and consecutive failures are counted.
//   - Open: the tier is skipped until Cooldown has elapsed.
//   - HalfOpen: a limited number of probe calls go through; enough
//     successes close the breaker, any failure reopens it.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Keksclan/tiercache/storage"
)

// State is the health state of a tier.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// Cooldown is how long an open breaker skips the tier before probing.
	Cooldown time.Duration
	// Probes is the number of consecutive successes needed in HalfOpen to
	// close again.
	Probes int
}

// DefaultConfig is the tier-health policy used by the manager.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 10 * time.Second, Probes: 1}
}

// Breaker guards one tier. All methods are safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       storage.Clock
}

// New creates a closed Breaker. Non-positive fields fall back to
// DefaultConfig.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	return &Breaker{cfg: cfg, state: Closed, now: time.Now}
}

// WithClock replaces the time source and returns b.
func (b *Breaker) WithClock(now storage.Clock) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// State returns the current state, moving Open to HalfOpen once the cooldown
// has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkCooldown()
	return b.state
}

// Allow reports whether the tier should be tried.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkCooldown()
	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return b.successes < b.cfg.Probes
	default:
		return false
	}
}

// Record feeds the outcome of a tier call into the breaker. Capacity and
// lookup outcomes say nothing about backend health and are ignored.
func (b *Breaker) Record(err error) {
	switch {
	case err == nil:
		b.OnSuccess()
	case !IsHealthFailure(err):
	default:
		b.OnFailure()
	}
}

// IsHealthFailure reports whether err indicates a broken backend rather
// than a full one, a bad request or a caller that gave up.
func IsHealthFailure(err error) bool {
	switch storage.CodeOf(err) {
	case storage.QuotaExceeded, storage.NotFound, storage.Expired,
		storage.InvalidKey, storage.InvalidValue, storage.NotSupported:
		return false
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	}
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case HalfOpen:
		b.open()
	}
}

// checkCooldown must be called with b.mu held.
func (b *Breaker) checkCooldown() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = HalfOpen
		b.successes = 0
	}
}

func (b *Breaker) open() {
	b.state = Open
	b.openedAt = b.now()
	b.successes = 0
}
