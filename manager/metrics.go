package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	hits          *prometheus.CounterVec
	misses        prometheus.Counter
	writes        *prometheus.CounterVec
	adapterErrors *prometheus.CounterVec
	backups       *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// newMetrics builds the collectors and registers them on reg when it is not
// nil. Collectors already registered by another manager are reused.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_hits_total",
			Help: "Cache reads answered by a tier.",
		}, []string{"tier"}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_misses_total",
			Help: "Cache reads no tier could answer.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_writes_total",
			Help: "Entries written, by the tier that accepted them.",
		}, []string{"tier"}),
		adapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_adapter_errors_total",
			Help: "Backend failures, by tier and operation.",
		}, []string{"tier", "op"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_backup_writes_total",
			Help: "Background copies of large entries to the large tier.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tiercache_operation_duration_seconds",
			Help:    "Latency of manager operations.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"op"}),
	}
	if reg == nil {
		return m
	}
	m.hits = register(reg, m.hits)
	m.misses = register(reg, m.misses)
	m.writes = register(reg, m.writes)
	m.adapterErrors = register(reg, m.adapterErrors)
	m.backups = register(reg, m.backups)
	m.duration = register(reg, m.duration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(op string, start time.Time) {
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
