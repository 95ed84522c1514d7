// Package metering turns LLM usage records and session milestones into
// stored usage rows and Prometheus metrics.
package metering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the tutor.
//
// Metrics:
//   - lectio_llm_calls_total{provider,feature,kind,status}
//   - lectio_llm_tokens_total{provider,feature,direction}
//   - lectio_llm_cost_usd_total{provider,feature}
//   - lectio_llm_latency_seconds{provider,kind}
//   - lectio_sessions_finished_total
//   - lectio_session_score{score}
//   - lectio_memory_jobs_total{result}
type Metrics struct {
	LLMCalls   *prometheus.CounterVec
	LLMTokens  *prometheus.CounterVec
	LLMCost    *prometheus.CounterVec
	LLMLatency *prometheus.HistogramVec

	SessionsFinished prometheus.Counter
	SessionScores    *prometheus.HistogramVec
	MemoryJobs       *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on promhttp.Handler; tests
// use a fresh prometheus.NewRegistry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LLMCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectio_llm_calls_total",
				Help: "LLM provider calls by outcome",
			},
			[]string{"provider", "feature", "kind", "status"},
		),
		LLMTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectio_llm_tokens_total",
				Help: "Tokens consumed by LLM calls",
			},
			[]string{"provider", "feature", "direction"}, // "input" or "output"
		),
		LLMCost: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectio_llm_cost_usd_total",
				Help: "Approximate LLM spend in US dollars",
			},
			[]string{"provider", "feature"},
		),
		LLMLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectio_llm_latency_seconds",
				Help:    "LLM call latency",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "kind"},
		),
		SessionsFinished: f.NewCounter(prometheus.CounterOpts{
			Name: "lectio_sessions_finished_total",
			Help: "Reading sessions that reached FINISHED",
		}),
		SessionScores: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lectio_session_score",
				Help:    "Outcome scores of finished sessions",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"score"}, // comprehension, production, frustration
		),
		MemoryJobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lectio_memory_jobs_total",
				Help: "Memory jobs by result",
			},
			[]string{"result"}, // enqueued, dropped, processed, failed
		),
	}
}
