// Package interceptors holds the unary server interceptors the inspection
// server is assembled from.
package interceptors

import (
	"context"

	"google.golang.org/grpc"
)

// Chain folds ics into one interceptor that runs them in slice order. It
// returns nil for an empty slice so callers can skip grpc.UnaryInterceptor.
func Chain(ics ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	switch len(ics) {
	case 0:
		return nil
	case 1:
		return ics[0]
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return step(ics, 0, info, handler)(ctx, req)
	}
}

func step(ics []grpc.UnaryServerInterceptor, i int, info *grpc.UnaryServerInfo, final grpc.UnaryHandler) grpc.UnaryHandler {
	if i == len(ics) {
		return final
	}
	return func(ctx context.Context, req any) (any, error) {
		return ics[i](ctx, req, info, step(ics, i+1, info, final))
	}
}
