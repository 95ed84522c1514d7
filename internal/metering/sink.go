package metering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/store"
)

// UsageStore persists usage rows.
type UsageStore interface {
	AppendUsage(ctx context.Context, e store.UsageEvent) error
}

// Sink is an llm.UsageSink that counts every record in Prometheus and
// persists it when a store is configured.
type Sink struct {
	store   UsageStore
	metrics *Metrics
	log     *zap.Logger
}

// NewSink creates a Sink. Either store or metrics may be nil.
func NewSink(s UsageStore, m *Metrics, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{store: s, metrics: m, log: log}
}

var _ llm.UsageSink = (*Sink)(nil)

// RecordUsage implements llm.UsageSink.
func (s *Sink) RecordUsage(ctx context.Context, rec llm.UsageRecord) error {
	feature := rec.Feature
	if feature == "" {
		feature = "unknown"
	}

	if m := s.metrics; m != nil {
		status := "success"
		if !rec.Success {
			status = "failure"
		}
		m.LLMCalls.WithLabelValues(rec.Provider, feature, rec.Kind, status).Inc()
		m.LLMTokens.WithLabelValues(rec.Provider, feature, "input").Add(float64(rec.InputTokens))
		m.LLMTokens.WithLabelValues(rec.Provider, feature, "output").Add(float64(rec.OutputTokens))
		m.LLMCost.WithLabelValues(rec.Provider, feature).Add(rec.CostUSD)
		m.LLMLatency.WithLabelValues(rec.Provider, rec.Kind).Observe(float64(rec.LatencyMs) / 1000)
	}

	if s.store == nil {
		return nil
	}
	err := s.store.AppendUsage(ctx, store.UsageEvent{
		Provider:     rec.Provider,
		Model:        rec.Model,
		Feature:      feature,
		Kind:         rec.Kind,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		TotalTokens:  rec.TotalTokens,
		CostUSD:      rec.CostUSD,
		LatencyMs:    rec.LatencyMs,
		Success:      rec.Success,
		ErrorMessage: rec.Error,
		CreatedAt:    rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("persist usage: %w", err)
	}
	return nil
}

// SessionFinished counts a finished session and its scores. A nil outcome
// only counts the session.
func (s *Sink) SessionFinished(o *reading.Outcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionsFinished.Inc()
	if o == nil {
		return
	}
	s.metrics.SessionScores.WithLabelValues("comprehension").Observe(float64(o.ComprehensionScore))
	s.metrics.SessionScores.WithLabelValues("production").Observe(float64(o.ProductionScore))
	s.metrics.SessionScores.WithLabelValues("frustration").Observe(float64(o.FrustrationIndex))
}

// MemoryJob counts a memory job result: "enqueued", "dropped",
// "processed" or "failed".
func (s *Sink) MemoryJob(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.MemoryJobs.WithLabelValues(result).Inc()
}
