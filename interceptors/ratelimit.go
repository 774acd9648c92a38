package interceptors

import (
	"context"
	"strings"

	"github.com/Keksclan/tiercache/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

// RateLimit rejects calls once the applicable limiter is exhausted. A method
// listed in perMethod, by full name ("/tiercache.Inspect/Clear") or by bare
// method name ("Clear"), uses its own limiter; everything else shares global.
// A nil global leaves unlisted methods unlimited.
func RateLimit(global *ratelimit.Limiter, perMethod map[string]*ratelimit.Limiter) grpc.UnaryServerInterceptor {
	pick := func(full string) *ratelimit.Limiter {
		if l, ok := perMethod[full]; ok {
			return l
		}
		if i := strings.LastIndexByte(full, '/'); i >= 0 {
			if l, ok := perMethod[full[i+1:]]; ok {
				return l
			}
		}
		return global
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if l := pick(info.FullMethod); l != nil && !l.Allow() {
			return nil, errRateLimited
		}
		return handler(ctx, req)
	}
}
