package contextx

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(t.Context(), "req-abc-123")
	if got := RequestID(ctx); got != "req-abc-123" {
		t.Fatalf("got %q, want %q", got, "req-abc-123")
	}
	if got := RequestID(t.Context()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestLoggerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Logger(WithRequestID(t.Context(), "r1"), base).Info("hit")
	if !strings.Contains(buf.String(), "request_id=r1") {
		t.Fatalf("log line %q lacks request id", buf.String())
	}

	buf.Reset()
	Logger(t.Context(), base).Info("hit")
	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("log line %q should not carry a request id", buf.String())
	}
}
