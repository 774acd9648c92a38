package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Keksclan/tiercache"
	"github.com/Keksclan/tiercache/inspect"
	"github.com/Keksclan/tiercache/manager"
	"github.com/Keksclan/tiercache/ratelimit"
	"github.com/Keksclan/tiercache/server"
	"github.com/Keksclan/tiercache/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

type serveFlags struct {
	listen        string
	metricsListen string
	rps           float64
	burst         int
	traceStdout   bool
}

func newServeCmd(o *options) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.addr != "" {
				return errors.New("serve operates on a local cache; drop --addr")
			}
			return runServe(cmd.Context(), o, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.listen, "listen", "127.0.0.1:7070", "gRPC listen address")
	fl.StringVar(&f.metricsListen, "metrics-listen", "127.0.0.1:9090", "Metrics listen address; empty disables")
	fl.Float64Var(&f.rps, "rps", 200, "Requests per second admitted by the inspection API")
	fl.IntVar(&f.burst, "burst", 50, "Request burst admitted by the inspection API")
	fl.BoolVar(&f.traceStdout, "trace-stdout", false, "Print spans to stdout")
	return cmd
}

func runServe(ctx context.Context, o *options, f *serveFlags) error {
	cfg, err := tiercache.LoadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var tcfg *tracing.Config
	if f.traceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		tcfg = &tracing.Config{TracerProvider: tp}
	}

	m, err := o.compose(ctx, cfg, tiercache.WithManagerOptions(
		manager.WithMetrics(reg),
		manager.WithTracing(tcfg),
	))
	if err != nil {
		return err
	}
	tiercache.Init(m)
	defer func() {
		if err := tiercache.Reset(context.Background()); err != nil {
			o.logger.Warn("close failed", slog.Any("error", err))
		}
	}()

	srv := server.NewServer(append(server.DefaultOptions(o.logger),
		server.WithTracing(tcfg),
		server.WithGatherer(reg),
		server.WithRateLimit(f.rps, f.burst, map[string]*ratelimit.Limiter{
			"Clear": ratelimit.NewLimiter(1, 1),
		}),
	)...)
	srv.RegisterInspect(inspect.NewHandler(m))

	lis, err := net.Listen("tcp", f.listen)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return srv.Serve(ctx, lis) })
	if f.metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.MetricsHandler())
		hs := &http.Server{Addr: f.metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		eg.Go(func() error {
			o.logger.Info("metrics listening", slog.String("addr", f.metricsListen))
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdown)
		})
	}
	return eg.Wait()
}
