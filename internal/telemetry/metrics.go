package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one Recorder. Each Recorder owns
// its registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	healStrategy      *prometheus.CounterVec
	collectorItems    prometheus.Counter
	alertsTotal       *prometheus.CounterVec
	operationsActive  *prometheus.GaugeVec
}

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Namespace       string `yaml:"namespace" json:"namespace"`
	Subsystem       string `yaml:"subsystem" json:"subsystem"`
	EnableGoMetrics bool   `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

// NewMetrics registers the ScrapeMend collectors on a fresh registry.
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "scrapemend"
	}
	reg := prometheus.NewRegistry()
	if config.EnableGoMetrics {
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operations_total",
				Help:      "Total number of completed operations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		healStrategy: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "heal_strategy_total",
				Help:      "Successful resolutions by strategy",
			},
			[]string{"strategy"},
		),
		collectorItems: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "collector_items_total",
				Help:      "Items emitted by incremental collection sessions",
			},
		),
		alertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "alerts_total",
				Help:      "Success-rate alerts raised by kind",
			},
			[]string{"kind"},
		),
		operationsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "operations_active",
				Help:      "Operations currently in flight",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) begin(kind Kind) {
	m.operationsActive.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) end(kind Kind, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.operationsActive.WithLabelValues(string(kind)).Dec()
	m.operationsTotal.WithLabelValues(string(kind), outcome).Inc()
	m.operationDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests and for
// registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
