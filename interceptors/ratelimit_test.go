package interceptors

import (
	"testing"

	"github.com/Keksclan/tiercache/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRateLimit_GlobalOnly(t *testing.T) {
	ic := RateLimit(ratelimit.NewLimiter(0.001, 2), nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/tiercache.Inspect/Keys"}

	for i := range 2 {
		if _, err := ic(t.Context(), nil, info, okHandler); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}
	if _, err := ic(t.Context(), nil, info, okHandler); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestRateLimit_PerMethodOverridesGlobal(t *testing.T) {
	ic := RateLimit(ratelimit.NewLimiter(1000, 100), map[string]*ratelimit.Limiter{
		"Clear": ratelimit.NewLimiter(0.001, 1),
	})
	clearInfo := &grpc.UnaryServerInfo{FullMethod: "/tiercache.Inspect/Clear"}
	keys := &grpc.UnaryServerInfo{FullMethod: "/tiercache.Inspect/Keys"}

	if _, err := ic(t.Context(), nil, clearInfo, okHandler); err != nil {
		t.Fatalf("first Clear: %v", err)
	}
	if _, err := ic(t.Context(), nil, clearInfo, okHandler); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second Clear: expected ResourceExhausted, got %v", err)
	}
	for i := range 10 {
		if _, err := ic(t.Context(), nil, keys, okHandler); err != nil {
			t.Fatalf("Keys %d: unexpected error: %v", i, err)
		}
	}
}

func TestRateLimit_FullNameBeatsBareName(t *testing.T) {
	ic := RateLimit(nil, map[string]*ratelimit.Limiter{
		"/tiercache.Inspect/Get": ratelimit.NewLimiter(0.001, 1),
		"Get":                    ratelimit.NewLimiter(1000, 100),
	})
	info := &grpc.UnaryServerInfo{FullMethod: "/tiercache.Inspect/Get"}
	_, _ = ic(t.Context(), nil, info, okHandler)
	if _, err := ic(t.Context(), nil, info, okHandler); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected the full-name limiter to apply, got %v", err)
	}
}

func TestRateLimit_NilGlobalIsUnlimited(t *testing.T) {
	ic := RateLimit(nil, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/tiercache.Inspect/Stats"}
	for i := range 50 {
		if _, err := ic(t.Context(), nil, info, okHandler); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
}
