package breaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Keksclan/tiercache/storage"
)

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	now := time.Now()
	b := New(cfg).WithClock(func() time.Time { return now })
	return b, &now
}

func TestClosedToOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Cooldown: 5 * time.Second, Probes: 1})

	b.OnFailure()
	b.OnFailure()
	if s := b.State(); s != Closed {
		t.Fatalf("expected closed after 2 failures, got %s", s)
	}
	b.OnFailure()
	if s := b.State(); s != Open {
		t.Fatalf("expected open after 3 failures, got %s", s)
	}
	if b.Allow() {
		t.Fatal("open breaker allowed a call")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, Cooldown: time.Second, Probes: 1})

	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	if s := b.State(); s != Closed {
		t.Fatalf("non-consecutive failures opened the breaker: %s", s)
	}
}

func TestCooldownProbeAndClose(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, Cooldown: 5 * time.Second, Probes: 2})

	b.OnFailure()
	*now = now.Add(5 * time.Second)
	if s := b.State(); s != HalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", s)
	}

	b.OnSuccess()
	if !b.Allow() {
		t.Fatal("second probe blocked")
	}
	b.OnSuccess()
	if s := b.State(); s != Closed {
		t.Fatalf("expected closed after probes, got %s", s)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second, Probes: 1})

	b.OnFailure()
	*now = now.Add(time.Second)
	if !b.Allow() {
		t.Fatal("probe blocked after cooldown")
	}
	b.OnFailure()
	if s := b.State(); s != Open {
		t.Fatalf("expected open after failed probe, got %s", s)
	}
}

func TestRecord_IgnoresNonHealthErrors(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second, Probes: 1})

	b.Record(storage.ErrQuotaExceeded)
	b.Record(&storage.Error{Code: storage.NotSupported, Op: "get"})
	b.Record(fmt.Errorf("set: %w", context.Canceled))
	if s := b.State(); s != Closed {
		t.Fatalf("non-health errors opened the breaker: %s", s)
	}

	b.Record(storage.AdapterFailure("redis", "get", "k", errors.New("connection reset")))
	if s := b.State(); s != Open {
		t.Fatalf("adapter failure did not open the breaker: %s", s)
	}
}

func TestRecord_DeadlineCounts(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second, Probes: 1})
	b.Record(context.DeadlineExceeded)
	if s := b.State(); s != Open {
		t.Fatalf("deadline did not open the breaker: %s", s)
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	for range DefaultConfig().FailureThreshold - 1 {
		b.OnFailure()
	}
	if s := b.State(); s != Closed {
		t.Fatalf("opened before the default threshold: %s", s)
	}
	b.OnFailure()
	if s := b.State(); s != Open {
		t.Fatalf("expected open at the default threshold, got %s", s)
	}
}
