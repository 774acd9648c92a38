package server

import (
	"log/slog"

	"github.com/Keksclan/tiercache/interceptors"
	"github.com/Keksclan/tiercache/internal/core"
	"github.com/Keksclan/tiercache/ratelimit"
	"github.com/Keksclan/tiercache/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

type config struct {
	chain    core.Builder
	recovery bool
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	grpcOpts []grpc.ServerOption
}

// Option configures a Server.
type Option func(*config)

// WithRecovery converts handler panics into codes.Internal. Panics are
// reported to the WithLogger logger.
func WithRecovery() Option {
	return func(c *config) { c.recovery = true }
}

// WithLogger logs every call and tags it with a request id.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l == nil {
			return
		}
		c.logger = l
		c.chain.Replace(core.OrderRequestID, interceptors.RequestID())
		c.chain.Replace(core.OrderLogging, interceptors.Logging(l))
	}
}

// WithTracing starts a server span per call.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) {
		c.chain.Replace(core.OrderTracing, tracing.UnaryServerInterceptor(cfg))
	}
}

// WithRateLimit admits rps calls per second with the given burst. perMethod
// overrides the limit for individual methods.
func WithRateLimit(rps float64, burst int, perMethod map[string]*ratelimit.Limiter) Option {
	return func(c *config) {
		c.chain.Replace(core.OrderRateLimit, interceptors.RateLimit(ratelimit.NewLimiter(rps, burst), perMethod))
	}
}

// WithUnaryInterceptor appends i after the built-in interceptors.
func WithUnaryInterceptor(i grpc.UnaryServerInterceptor) Option {
	return func(c *config) { c.chain.Add(core.OrderCustom, i) }
}

// WithGatherer sets the registry MetricsHandler serves. It defaults to the
// Prometheus default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *config) {
		if g != nil {
			c.gatherer = g
		}
	}
}

// WithGRPCOptions passes extra options to grpc.NewServer.
func WithGRPCOptions(opts ...grpc.ServerOption) Option {
	return func(c *config) { c.grpcOpts = append(c.grpcOpts, opts...) }
}

// DefaultOptions returns the options recommended for production use.
func DefaultOptions(l *slog.Logger) []Option {
	return []Option{WithLogger(l), WithRecovery()}
}
