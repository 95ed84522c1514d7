package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/store"
)

type memUsageStore struct {
	events []store.UsageEvent
	err    error
}

func (m *memUsageStore) AppendUsage(_ context.Context, e store.UsageEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func TestSink_RecordUsage(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	us := &memUsageStore{}
	s := NewSink(us, m, nil)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordUsage(context.Background(), llm.UsageRecord{
		Provider: "anthropic", Model: "claude-haiku-4-5-20251001", Feature: "tutor_turn", Kind: "generate",
		InputTokens: 100, OutputTokens: 20, TotalTokens: 120, CostUSD: 0.0002, LatencyMs: 1500,
		Success: true, CreatedAt: at,
	}))
	require.NoError(t, s.RecordUsage(context.Background(), llm.UsageRecord{
		Provider: "anthropic", Kind: "generate", Success: false, Error: "rate limited",
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("anthropic", "tutor_turn", "generate", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("anthropic", "unknown", "generate", "failure")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.LLMTokens.WithLabelValues("anthropic", "tutor_turn", "input")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.LLMTokens.WithLabelValues("anthropic", "tutor_turn", "output")))
	assert.InDelta(t, 0.0002, testutil.ToFloat64(m.LLMCost.WithLabelValues("anthropic", "tutor_turn")), 1e-9)

	require.Len(t, us.events, 2)
	assert.Equal(t, "claude-haiku-4-5-20251001", us.events[0].Model)
	assert.Equal(t, 120, us.events[0].TotalTokens)
	assert.True(t, us.events[0].CreatedAt.Equal(at))
	assert.Equal(t, "unknown", us.events[1].Feature)
	assert.Equal(t, "rate limited", us.events[1].ErrorMessage)
}

func TestSink_StoreErrorReturned(t *testing.T) {
	s := NewSink(&memUsageStore{err: errors.New("disk full")}, nil, nil)
	err := s.RecordUsage(context.Background(), llm.UsageRecord{Provider: "openai"})
	assert.ErrorContains(t, err, "disk full")
}

func TestSink_MetricsOnly(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	s := NewSink(nil, m, nil)
	require.NoError(t, s.RecordUsage(context.Background(), llm.UsageRecord{Provider: "gemini", Feature: "memory_summary", Kind: "generate", Success: true}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("gemini", "memory_summary", "generate", "success")))
}

func TestSink_SessionAndJobCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	s := NewSink(nil, m, nil)

	s.SessionFinished(&reading.Outcome{ComprehensionScore: 62, ProductionScore: 25, FrustrationIndex: 10})
	s.SessionFinished(nil)
	s.MemoryJob("enqueued")
	s.MemoryJob("enqueued")
	s.MemoryJob("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsFinished))
	assert.Equal(t, 3, testutil.CollectAndCount(m.SessionScores), "one series per score")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MemoryJobs.WithLabelValues("enqueued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryJobs.WithLabelValues("failed")))

	// A sink without metrics is a no-op.
	NewSink(nil, nil, nil).SessionFinished(nil)
}

func TestSink_WithStore(t *testing.T) {
	st, err := store.Open("file:metering_sink?mode=memory&cache=shared")
	require.NoError(t, err)
	defer st.Close()

	s := NewSink(st, nil, nil)
	require.NoError(t, s.RecordUsage(context.Background(), llm.UsageRecord{
		Provider: "openai", Model: "gpt-4o-mini", Feature: "tutor_turn", Kind: "generate", Success: true,
	}))

	events, err := st.QueryUsage(context.Background(), store.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "gpt-4o-mini", events[0].Model)
}
