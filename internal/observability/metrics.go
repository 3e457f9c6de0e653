package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the Prometheus metrics of the extraction service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	extractions  *prometheus.CounterVec
	strategyWins *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	tokensUsed   *prometheus.CounterVec
	uploadBytes  prometheus.Histogram
}

// NewMetrics registers all metrics in a private registry so that it can be
// called more than once, e.g. in tests.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_extractions_total",
				Help: "Extraction requests by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		strategyWins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_recovery_strategy_total",
				Help: "Recovery strategy that produced the accepted result.",
			},
			[]string{"mode", "strategy"},
		),
		modelLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_model_call_duration_seconds",
				Help:    "Duration of model calls.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"status"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		uploadBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extractor_upload_bytes",
				Help:    "Size of accepted uploads.",
				Buckets: prometheus.ExponentialBuckets(16<<10, 4, 6),
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// IncrExtraction counts one finished extraction.
func (m *Metrics) IncrExtraction(mode, outcome string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(mode, outcome).Inc()
}

// IncrStrategyWin counts the recovery strategy that produced a result.
func (m *Metrics) IncrStrategyWin(mode, strategy string) {
	if m == nil {
		return
	}
	m.strategyWins.WithLabelValues(mode, strategy).Inc()
}

// RecordModelCall records the duration of one model call.
func (m *Metrics) RecordModelCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.modelLatency.WithLabelValues(status).Observe(d.Seconds())
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int64) {
	if m == nil {
		return
	}
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// RecordUpload records the size of an accepted upload.
func (m *Metrics) RecordUpload(size int) {
	if m == nil {
		return
	}
	m.uploadBytes.Observe(float64(size))
}

// counterValue extracts the current value of a CounterVec for the given labels.
func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
