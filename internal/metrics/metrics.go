package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	QueriesTotal      *prometheus.CounterVec
	SafetyRejections  *prometheus.CounterVec
	AdviceSource      *prometheus.CounterVec
	LLMCallDuration   *prometheus.HistogramVec
	StorageWriteFails *prometheus.CounterVec
	StorageFallbacks  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector registers the service metrics on a private registry so
// several collectors can coexist in one process.
func NewCollector(serviceName string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "triage",
			Name:      "queries_total",
			Help:      "Triage queries by final status.",
		}, []string{"status"}),

		SafetyRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "triage",
			Name:      "safety_rejections_total",
			Help:      "Inputs rejected by the safety check, by reason.",
		}, []string{"reason"}),

		AdviceSource: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "advice",
			Name:      "generated_total",
			Help:      "Advice produced, by source (llm, repaired, fallback, mock).",
		}, []string{"source"}),

		LLMCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "advice",
			Name:      "llm_call_duration_seconds",
			Help:      "Chat-completion latency by outcome.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"outcome"}),

		StorageWriteFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "history",
			Name:      "write_failures_total",
			Help:      "Failed history writes by backend. Alert if non-zero.",
		}, []string{"backend"}),

		StorageFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "history",
			Name:      "primary_failures_total",
			Help:      "Primary history store calls served by the file fallback, by backend and operation.",
		}, []string{"backend", "op"}),
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
