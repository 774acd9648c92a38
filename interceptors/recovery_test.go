package interceptors

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRecovery_Panic_ReturnsInternal(t *testing.T) {
	var buf bytes.Buffer
	ic := Recovery(slog.New(slog.NewTextHandler(&buf, nil)))

	info := &grpc.UnaryServerInfo{FullMethod: "/tiercache.Inspect/Stats"}
	resp, err := ic(t.Context(), "req", info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if resp != nil {
		t.Fatalf("expected nil response, got %v", resp)
	}
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
	if !strings.Contains(buf.String(), "panic=boom") || !strings.Contains(buf.String(), "/tiercache.Inspect/Stats") {
		t.Fatalf("panic not logged: %q", buf.String())
	}
}

func TestRecovery_NonStringPanic(t *testing.T) {
	ic := Recovery(nil)
	_, err := ic(t.Context(), nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		panic(errors.New("wrapped"))
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
}

func TestRecovery_NoPanic_Passthrough(t *testing.T) {
	ic := Recovery(nil)
	resp, err := ic(t.Context(), "hello", &grpc.UnaryServerInfo{}, func(_ context.Context, req any) (any, error) {
		return req, nil
	})
	if err != nil || resp != "hello" {
		t.Fatalf("resp = %v, err = %v", resp, err)
	}
}
