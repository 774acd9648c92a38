package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/Keksclan/tiercache/contextx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Logging writes one record per call: Info on success, Warn otherwise.
func Logging(l *slog.Logger) grpc.UnaryServerInterceptor {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelInfo
		if code != codes.OK {
			level = slog.LevelWarn
		}
		attrs := []slog.Attr{
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		contextx.Logger(ctx, l).LogAttrs(ctx, level, "rpc", attrs...)
		return resp, err
	}
}
