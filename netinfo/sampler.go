package netinfo

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/Keksclan/tiercache/retry"
)

// DefaultSampleInterval is how often a Sampler measures the link.
const DefaultSampleInterval = 30 * time.Second

// Sampler estimates the link by timing TCP dials to a reference address. It
// only observes round-trip time; downlink stays unknown.
type Sampler struct {
	*Manual

	addr     string
	interval time.Duration
	dialer   net.Dialer
	retry    retry.Config
	logger   *slog.Logger
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithInterval sets the sampling period.
func WithInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDialTimeout bounds each dial.
func WithDialTimeout(d time.Duration) SamplerOption {
	return func(s *Sampler) { s.dialer.Timeout = d }
}

// WithRetry sets the retry policy for a single sample.
func WithRetry(cfg retry.Config) SamplerOption {
	return func(s *Sampler) { s.retry = cfg }
}

// WithSamplerLogger sets the logger.
func WithSamplerLogger(l *slog.Logger) SamplerOption {
	return func(s *Sampler) { s.logger = l }
}

// NewSampler returns a Sampler dialing addr ("host:port").
func NewSampler(addr string, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		Manual:   NewManual(Info{}),
		addr:     addr,
		interval: DefaultSampleInterval,
		dialer:   net.Dialer{Timeout: 3 * time.Second},
		retry:    retry.Probe(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sample measures the link once and records the result.
func (s *Sampler) Sample(ctx context.Context) (Info, error) {
	rtt, err := retry.Do(ctx, s.retry, func(ctx context.Context) (time.Duration, error) {
		start := time.Now()
		conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
		if err != nil {
			return 0, err
		}
		elapsed := time.Since(start)
		_ = conn.Close()
		return elapsed, nil
	})
	if err != nil {
		return s.Info(), err
	}

	info := s.Info()
	info.RTT = rtt
	info.EffectiveType = Classify(rtt, info.Downlink)
	s.Set(info)
	return info, nil
}

// Run samples until ctx is done. Failed samples keep the last observation.
func (s *Sampler) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		if _, err := s.Sample(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("link sample failed",
				slog.String("addr", s.addr),
				slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
