package storage

import (
	"errors"
	"testing"
	"time"
)

type profile struct {
	Name string `json:"name"`
}

func TestWrapDecodeRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	e, err := Wrap(profile{Name: "a"}, time.Second, "v1", now)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if e.Timestamp != now.UnixMilli() {
		t.Fatalf("timestamp = %d, want %d", e.Timestamp, now.UnixMilli())
	}
	if e.TTL != 1000 {
		t.Fatalf("ttl = %d, want 1000", e.TTL)
	}

	raw, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var p profile
	if err := back.Decode(&p); err != nil {
		t.Fatalf("Entry.Decode: %v", err)
	}
	if p.Name != "a" {
		t.Fatalf("got %q, want %q", p.Name, "a")
	}
	if back.Version != "v1" {
		t.Fatalf("version = %q, want v1", back.Version)
	}
}

func TestAsEntryDoesNotRewrap(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	e, err := Wrap("x", 0, "", now)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	got, err := AsEntry(e, time.Hour, "v9", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("AsEntry: %v", err)
	}
	if got != e {
		t.Fatal("expected the same entry pointer back")
	}

	got, err = AsEntry(*e, time.Hour, "v9", now)
	if err != nil {
		t.Fatalf("AsEntry(value): %v", err)
	}
	if got.Timestamp != e.Timestamp || got.TTL != 0 {
		t.Fatalf("wrapped entry was modified: %+v", got)
	}
}

func TestExpiredIsMonotonic(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	e := &Entry{Data: []byte(`1`), Timestamp: start.UnixMilli(), TTL: 1000}

	if e.Expired(start.Add(999 * time.Millisecond)) {
		t.Fatal("expired before ttl")
	}
	if !e.Expired(start.Add(time.Second)) {
		t.Fatal("not expired at ttl")
	}
	if !e.Expired(start.Add(time.Hour)) {
		t.Fatal("un-expired after ttl")
	}

	forever := &Entry{Data: []byte(`1`), Timestamp: start.UnixMilli()}
	if forever.Expired(start.Add(365 * 24 * time.Hour)) {
		t.Fatal("zero ttl must never expire")
	}
}

func TestDecodeRejectsCorrupt(t *testing.T) {
	for _, raw := range []string{`not json`, `{"timestamp":1}`, `{"data":1}`} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("Decode(%q) error = %v, want INVALID_VALUE", raw, err)
		}
	}
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := error(&Error{Code: QuotaExceeded, Op: "set", Backend: "memory", Key: "k"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatal("expected quota error to match sentinel")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("quota error must not match NOT_FOUND")
	}
	if CodeOf(err) != QuotaExceeded {
		t.Fatalf("CodeOf = %v", CodeOf(err))
	}
}

func TestValidateKey(t *testing.T) {
	for _, k := range []string{"", "   "} {
		if err := ValidateKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("ValidateKey(%q) = %v, want INVALID_KEY", k, err)
		}
	}
	if err := ValidateKey("profile:1"); err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}
}

func TestUnavailableReportsNotSupported(t *testing.T) {
	a := Detect("badger", Medium, func() (Adapter, error) {
		return nil, errors.New("no directory")
	})
	if a.Available() {
		t.Fatal("expected unavailable adapter")
	}
	if _, err := a.Get(t.Context(), "k"); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Get error = %v, want NOT_SUPPORTED", err)
	}
	if a.Type() != "badger" || a.Tier() != Medium {
		t.Fatalf("unexpected identity %s/%s", a.Type(), a.Tier())
	}
}
