package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// Metrics collects the gateway's Prometheus metrics. Labels stay
// low-cardinality: provider, model, error kind.
type Metrics struct {
	// CompletionCounter counts finished completions.
	// Labels: model, status (success|error), kind (error kind or "").
	CompletionCounter *prometheus.CounterVec

	// CompletionDuration measures end-to-end completion latency in seconds.
	// Labels: model.
	CompletionDuration *prometheus.HistogramVec

	// LLMRequestCounter counts upstream provider calls.
	// Labels: provider, model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures upstream call latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// TokensUsed counts tokens by side.
	// Labels: model, type (prompt|completion).
	TokensUsed *prometheus.CounterVec

	// CostUSD accumulates completion cost.
	// Labels: model.
	CostUSD *prometheus.CounterVec

	// HTTPRequestDuration measures API latency.
	// Labels: method, route, status_code.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the gateway metrics on the registerer; pass
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CompletionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anotherai_completions_total",
			Help: "Finished completions by model and outcome.",
		}, []string{"model", "status", "kind"}),
		CompletionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anotherai_completion_duration_seconds",
			Help:    "End-to-end completion latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anotherai_llm_requests_total",
			Help: "Upstream provider calls by outcome.",
		}, []string{"provider", "model", "status"}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anotherai_llm_request_duration_seconds",
			Help:    "Upstream provider call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anotherai_tokens_total",
			Help: "Token consumption by side.",
		}, []string{"model", "type"}),
		CostUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "anotherai_cost_usd_total",
			Help: "Accumulated completion cost in USD.",
		}, []string{"model"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anotherai_http_request_duration_seconds",
			Help:    "API request latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method", "route", "status_code"}),
	}
}

// RecordCompletion folds one finished completion into the metrics.
func (m *Metrics) RecordCompletion(c *domain.Completion) {
	if m == nil || c == nil {
		return
	}
	model := ""
	if c.Version != nil {
		model = c.Version.Model
	}
	status, kind := "success", ""
	if c.Output.Error != nil {
		status, kind = "error", c.Output.Error.Kind
	}
	m.CompletionCounter.WithLabelValues(model, status, kind).Inc()
	m.CompletionDuration.WithLabelValues(model).Observe(c.DurationSeconds)
	if c.CostUSD != nil {
		m.CostUSD.WithLabelValues(model).Add(*c.CostUSD)
	}
	for _, trace := range c.Traces {
		traceStatus := "success"
		if trace.Error != nil {
			traceStatus = "error"
		}
		m.LLMRequestCounter.WithLabelValues(string(trace.Provider), trace.Model, traceStatus).Inc()
		m.LLMRequestDuration.WithLabelValues(string(trace.Provider), trace.Model).Observe(trace.DurationSeconds)
		if trace.Usage != nil {
			m.TokensUsed.WithLabelValues(trace.Model, "prompt").Add(float64(trace.Usage.PromptTokens))
			m.TokensUsed.WithLabelValues(trace.Model, "completion").Add(float64(trace.Usage.CompletionTokens))
		}
	}
}

// RecordHTTP folds one API request into the metrics.
func (m *Metrics) RecordHTTP(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}
