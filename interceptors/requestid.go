package interceptors

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/Keksclan/tiercache/contextx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDHeader is read from incoming metadata and echoed in the response
// header.
const RequestIDHeader = "x-request-id"

func newRequestID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// RequestID stores the caller's x-request-id, or a fresh one, in the
// context and sends it back as a response header.
func RequestID() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(RequestIDHeader); len(v) > 0 {
				id = v[0]
			}
		}
		if id == "" {
			id = newRequestID()
		}
		// Fails only outside a real transport, e.g. direct calls in tests.
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
		return handler(contextx.WithRequestID(ctx, id), req)
	}
}
