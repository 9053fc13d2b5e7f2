// Package metrics collects and exposes Prometheus metrics for the
// verification pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface the verification service reports through.
type Recorder interface {
	RecordOutcome(outcome, reason string)
	RecordVerifyLatency(d time.Duration)
	RecordExtractionRetry()
	RecordExtractionFailure()
}

// Collector implements Recorder over a Prometheus registry.
type Collector struct {
	verifyTotal        *prometheus.CounterVec
	verifyLatency      prometheus.Histogram
	extractionRetries  prometheus.Counter
	extractionFailures prometheus.Counter
	registry           *prometheus.Registry
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		verifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facegate_verify_total",
			Help: "Verification attempts by outcome and reason code",
		}, []string{"outcome", "reason"}),
		verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facegate_verify_latency_seconds",
			Help:    "End-to-end verification latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		extractionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facegate_extraction_retries_total",
			Help: "Retried embedding extraction calls",
		}),
		extractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facegate_extraction_failures_total",
			Help: "Embedding extraction calls that exhausted their retries",
		}),
	}

	reg.MustRegister(c.verifyTotal, c.verifyLatency, c.extractionRetries, c.extractionFailures)
	return c
}

func (c *Collector) RecordOutcome(outcome, reason string) {
	c.verifyTotal.WithLabelValues(outcome, reason).Inc()
}

func (c *Collector) RecordVerifyLatency(d time.Duration) {
	c.verifyLatency.Observe(d.Seconds())
}

func (c *Collector) RecordExtractionRetry() {
	c.extractionRetries.Inc()
}

func (c *Collector) RecordExtractionFailure() {
	c.extractionFailures.Inc()
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Nop is a Recorder that discards everything, for tests and CLI commands.
type Nop struct{}

func (Nop) RecordOutcome(outcome, reason string)  {}
func (Nop) RecordVerifyLatency(d time.Duration)   {}
func (Nop) RecordExtractionRetry()                {}
func (Nop) RecordExtractionFailure()              {}
