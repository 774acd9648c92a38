package interceptors

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/Keksclan/tiercache/contextx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errInternal = status.Error(codes.Internal, "internal server error")

// Recovery turns a handler panic into codes.Internal and logs the panic value
// with its stack. A nil logger discards the report.
func Recovery(l *slog.Logger) grpc.UnaryServerInterceptor {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				contextx.Logger(ctx, l).Error("handler panic",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				resp, err = nil, errInternal
			}
		}()
		return handler(ctx, req)
	}
}
