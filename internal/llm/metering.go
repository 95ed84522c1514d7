package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// UsageRecord is one provider call as seen by usage metering.
type UsageRecord struct {
	Provider     string
	Model        string
	Feature      string
	Kind         string // "generate" or "embed"
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	LatencyMs    int64
	Success      bool
	Error        string
	CreatedAt    time.Time
}

// UsageSink receives usage records. It is write-only from the caller's view.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// MeteredProvider is a decorator that reports every call to a UsageSink.
type MeteredProvider struct {
	inner Provider
	sink  UsageSink
	log   *zap.Logger
}

// WithMetering wraps a Provider with usage reporting.
func WithMetering(p Provider, sink UsageSink, log *zap.Logger) *MeteredProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &MeteredProvider{inner: p, sink: sink, log: log}
}

func (m *MeteredProvider) Name() string { return m.inner.Name() }
func (m *MeteredProvider) ModelID() string { return m.inner.ModelID() }
func (m *MeteredProvider) Available() bool { return m.inner.Available() }
func (m *MeteredProvider) Unwrap() Provider { return m.inner }

func (m *MeteredProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := m.inner.Generate(ctx, req)

	rec := m.record(ctx, "generate", start, err)
	if resp != nil {
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
		rec.TotalTokens = resp.Usage.TotalTokens
		if resp.Model != "" {
			rec.Model = resp.Model
		}
	}
	if c := LookupCost(rec.Model); c != nil {
		rec.CostUSD = c.Cost(rec.InputTokens, rec.OutputTokens)
	}
	m.emit(ctx, rec)

	return resp, err
}

func (m *MeteredProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	e, ok := m.inner.(Embedder)
	if !ok {
		return nil, ErrEmbeddingUnsupported
	}
	start := time.Now()
	vec, err := e.Embed(ctx, text)
	m.emit(ctx, m.record(ctx, "embed", start, err))
	return vec, err
}

func (m *MeteredProvider) record(ctx context.Context, kind string, start time.Time, err error) UsageRecord {
	rec := UsageRecord{
		Provider:  m.inner.Name(),
		Model:     m.inner.ModelID(),
		Feature:   FeatureFrom(ctx),
		Kind:      kind,
		LatencyMs: time.Since(start).Milliseconds(),
		Success:   err == nil,
		CreatedAt: start,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// emit records usage without failing the request.
func (m *MeteredProvider) emit(ctx context.Context, rec UsageRecord) {
	if err := m.sink.RecordUsage(context.WithoutCancel(ctx), rec); err != nil {
		m.log.Warn("failed to record LLM usage",
			zap.String("provider", rec.Provider),
			zap.String("feature", rec.Feature),
			zap.Error(err))
	}
}
