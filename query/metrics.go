package query

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets covers vendor latencies from 100ms up to the stream deadline.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	FallbacksTotal  *prometheus.CounterVec
	DeltasTotal     *prometheus.CounterVec
	ActiveStreams   prometheus.Gauge
	ProbesTotal     *prometheus.CounterVec
	ProbeLatency    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_query_requests_total",
				Help: "Vendor requests by provider type, mode and outcome",
			},
			[]string{"provider_type", "mode", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launcher_query_duration_seconds",
				Help:    "Query duration",
				Buckets: LLMBuckets,
			},
			[]string{"provider_type", "mode"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_query_fallbacks_total",
				Help: "Streaming attempts that fell back to a single non-streaming call",
			},
			[]string{"provider_type"},
		),
		DeltasTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_query_deltas_total",
				Help: "Text deltas emitted to subscribers",
			},
			[]string{"provider_type"},
		),
		ActiveStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "launcher_query_streams_active",
				Help: "Streams currently in flight",
			},
		),
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_probe_total",
				Help: "Connection probes by provider type and HTTP status",
			},
			[]string{"provider_type", "status"},
		),
		ProbeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launcher_probe_latency_seconds",
				Help:    "Connection probe latency",
				Buckets: LLMBuckets,
			},
			[]string{"provider_type"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.FallbacksTotal,
			m.DeltasTotal,
			m.ActiveStreams,
			m.ProbesTotal,
			m.ProbeLatency,
		)
	}
	return m
}

func (m *Metrics) request(providerType, mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(providerType, mode, outcome).Inc()
	m.RequestDuration.WithLabelValues(providerType, mode).Observe(d.Seconds())
}

func (m *Metrics) fallback(providerType string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(providerType).Inc()
}

func (m *Metrics) delta(providerType string) {
	if m == nil {
		return
	}
	m.DeltasTotal.WithLabelValues(providerType).Inc()
}

func (m *Metrics) streamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) streamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) probe(providerType string, status *int, d time.Duration) {
	if m == nil {
		return
	}
	code := "none"
	if status != nil {
		code = strconv.Itoa(*status)
	}
	m.ProbesTotal.WithLabelValues(providerType, code).Inc()
	m.ProbeLatency.WithLabelValues(providerType).Observe(d.Seconds())
}
