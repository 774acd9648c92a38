// Package commands implements the tiercache command line.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Keksclan/tiercache"
	"github.com/Keksclan/tiercache/manager"
	"github.com/spf13/cobra"
)

type options struct {
	backend  string
	addr     string
	output   string
	logLevel string

	logger *slog.Logger
}

// NewRootCmd builds the command tree. version is shown by --version.
func NewRootCmd(version string) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "tiercache",
		Short: "Inspect and serve a tiered cache",
		Long: `tiercache operates on a tiered cache built from TIERCACHE_* environment
variables, or on a running inspection server when --addr is given.

Examples:
  # Show tier usage of the native cache in ./.tiercache
  tiercache stats

  # List profile keys through a running server
  tiercache keys profile: --addr 127.0.0.1:7070

  # Serve the inspection API and Prometheus metrics
  TIERCACHE_REDIS_ADDR=localhost:6379 tiercache serve --backend web`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.backend, "backend", "native", "Tier stack to open locally (native|web)")
	pf.StringVar(&o.addr, "addr", "", "Address of a running inspection server; bypasses the local cache")
	pf.StringVarP(&o.output, "output", "o", "table", "Output format (table|json)")
	pf.StringVar(&o.logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q", o.logLevel)
		}
		o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		switch o.output {
		case "table", "json":
		default:
			return fmt.Errorf("invalid --output %q", o.output)
		}
		return nil
	}

	root.AddCommand(
		newServeCmd(o),
		newStatsCmd(o),
		newKeysCmd(o),
		newGetCmd(o),
		newDelCmd(o),
		newClearCmd(o),
		newInvalidateCmd(o),
	)
	return root
}

// withStore opens the store for the duration of run.
func (o *options) withStore(run func(cmd *cobra.Command, args []string, s store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := o.open(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(context.Background()); err != nil {
				o.logger.Warn("close failed", slog.Any("error", err))
			}
		}()
		return run(cmd, args, s)
	}
}

func (o *options) open(ctx context.Context) (store, error) {
	if o.addr != "" {
		return dialStore(o.addr)
	}
	cfg, err := tiercache.LoadConfig()
	if err != nil {
		return nil, err
	}
	m, err := o.compose(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return localStore{m}, nil
}

func (o *options) compose(ctx context.Context, cfg tiercache.Config, opts ...tiercache.Option) (*manager.Manager, error) {
	opts = append([]tiercache.Option{tiercache.WithLogger(o.logger)}, opts...)
	var (
		m   *manager.Manager
		err error
	)
	switch strings.ToLower(o.backend) {
	case "native":
		m, err = tiercache.NewNative(ctx, cfg, opts...)
	case "web":
		m, err = tiercache.NewWeb(ctx, cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown backend %q", o.backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", o.backend, err)
	}
	return m, nil
}
