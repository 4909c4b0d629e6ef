// Package metrics exposes prometheus metrics about running ceremonies.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every metric of this package.
	Registry = prometheus.NewRegistry()

	// Contributions counts accepted contributions per ceremony and mode.
	Contributions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ceremony_contributions_total",
		Help: "Number of contributions accepted",
	}, []string{"ceremony", "mode"})
	// Rejections counts refused operations per ceremony and reason.
	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ceremony_rejections_total",
		Help: "Number of operations refused by the coordinator",
	}, []string{"ceremony", "reason"})
	// Stage is the current stage of each ceremony.
	Stage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ceremony_stage",
		Help: "Current stage of the ceremony",
	}, []string{"ceremony"})
	// EngineLatency is how long engine calls take.
	EngineLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ceremony_engine_duration_seconds",
		Help:    "Duration of cryptography engine calls",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"op"})
	// HTTPCalls counts requests served by the ceremony server.
	HTTPCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ceremony_http_calls_total",
		Help: "Number of HTTP calls received",
	}, []string{"code", "method"})

	bindOnce sync.Once
)

func bind() {
	bindOnce.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			Contributions,
			Rejections,
			Stage,
			EngineLatency,
			HTTPCalls,
		)
	})
}

// Handler serves the registry.
func Handler() http.Handler {
	bind()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveEngine records the time elapsed since start for an engine call.
func ObserveEngine(op string, start time.Time) {
	EngineLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// InstrumentHandler counts requests served by h.
func InstrumentHandler(h http.Handler) http.Handler {
	bind()
	return promhttp.InstrumentHandlerCounter(HTTPCalls, h)
}
