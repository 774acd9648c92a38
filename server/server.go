// Package server hosts the inspection service: a gRPC server with an
// ordered interceptor chain and a Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/Keksclan/tiercache/inspect"
	"github.com/Keksclan/tiercache/interceptors"
	"github.com/Keksclan/tiercache/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

// Server wraps a grpc.Server.
type Server struct {
	grpcServer *grpc.Server
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// NewServer applies opts. Interceptors run in a fixed order regardless of
// option order: recovery, request id, tracing, logging, rate limit, custom.
func NewServer(opts ...Option) *Server {
	cfg := config{
		logger:   slog.New(slog.DiscardHandler),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.recovery {
		cfg.chain.Replace(core.OrderRecovery, interceptors.Recovery(cfg.logger))
	}
	serverOpts := append(cfg.chain.ServerOptions(interceptors.Chain), cfg.grpcOpts...)
	return &Server{
		grpcServer: grpc.NewServer(serverOpts...),
		gatherer:   cfg.gatherer,
		logger:     cfg.logger,
	}
}

// GRPC returns the underlying *grpc.Server so callers can register services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// RegisterInspect registers the tiercache.Inspect service.
func (s *Server) RegisterInspect(h inspect.Handler) {
	inspect.Register(s.grpcServer, h)
}

// MetricsHandler serves the configured gatherer in the Prometheus text
// format.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.grpcServer.Serve(lis) }()
	s.logger.Info("inspect server listening", slog.String("addr", lis.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.grpcServer.GracefulStop()
		if err := <-errc; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}
