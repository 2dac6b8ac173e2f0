// Package metrics exposes Prometheus collectors for the classification service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its own registry. A nil *Metrics records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	inference prometheus.Histogram
	pipeline  prometheus.Histogram
	cacheHits prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classify",
			Name:      "predictions_total",
			Help:      "Classified images by outcome.",
		}, []string{"outcome"}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "classify",
			Name:      "inference_duration_seconds",
			Help:      "Forward pass latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		pipeline: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "classify",
			Name:      "pipeline_duration_seconds",
			Help:      "Decode to response latency of one image.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classify",
			Name:      "cache_hits_total",
			Help:      "Results served from the result cache.",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.inference, m.pipeline, m.cacheHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one finished classification. outcome is "success" or an error kind.
func (m *Metrics) Observe(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.pipeline.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveInference(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inference.Observe(elapsed.Seconds())
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
