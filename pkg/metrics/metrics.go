// Package metrics implements transport.Instrumentation with Prometheus
// counters/histograms, grounded on the teacher's middleware.Prometheus
// event-metrics middleware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the Prometheus collectors, mirroring the teacher's
// MetricsConfig (namespace/subsystem/labels/registry).
type Config struct {
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
	Buckets     []float64
	Registry    prometheus.Registerer
}

// Option configures a Config.
type Option func(*Config)

func WithNamespace(ns string) Option  { return func(c *Config) { c.Namespace = ns } }
func WithSubsystem(sub string) Option { return func(c *Config) { c.Subsystem = sub } }
func WithConstLabels(l prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = l }
}
func WithBuckets(b []float64) Option          { return func(c *Config) { c.Buckets = b } }
func WithRegistry(r prometheus.Registerer) Option { return func(c *Config) { c.Registry = r } }

func defaultConfig() Config {
	return Config{
		Namespace: "duplexwire",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector implements transport.Instrumentation.
type Collector struct {
	invokeLatency   *prometheus.HistogramVec
	invokeTotal     *prometheus.CounterVec
	badConnections  prometheus.Counter
	activeStreams   prometheus.Gauge
	invalidMessages prometheus.Counter
}

// New builds a Collector and registers its collectors with opts.Registry
// (defaulting to prometheus.DefaultRegisterer).
func New(opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		invokeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "invoke_duration_seconds",
			Help:        "Duration of Invoke round trips in seconds",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"procedure"}),

		invokeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "invoke_total",
			Help:        "Total Invoke calls by procedure and outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"procedure", "outcome"}),

		badConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "bad_connections_total",
			Help:        "Total transitions into the bad-connection state",
			ConstLabels: cfg.ConstLabels,
		}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "active_streams",
			Help:        "Number of open object/binary streams on this transport",
			ConstLabels: cfg.ConstLabels,
		}),

		invalidMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "invalid_messages_total",
			Help:        "Total inbound messages rejected as invalid",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

func (c *Collector) ObserveInvokeLatency(procedure string, seconds float64, ok bool) {
	c.invokeLatency.WithLabelValues(procedure).Observe(seconds)
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.invokeTotal.WithLabelValues(procedure, outcome).Inc()
}

func (c *Collector) IncBadConnection()        { c.badConnections.Inc() }
func (c *Collector) SetActiveStreams(n int)   { c.activeStreams.Set(float64(n)) }
func (c *Collector) IncInvalidMessage()       { c.invalidMessages.Inc() }
