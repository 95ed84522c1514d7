package store

import "time"

// QueryOpts configures usage queries with filtering and pagination.
type QueryOpts struct {
	Limit   int       // max results (0 = unlimited)
	Feature string    // exact feature tag, empty for all
	From    time.Time // created_at >= From
	To      time.Time // created_at <= To
}

// UsageEvent is one LLM provider call as recorded by usage metering.
type UsageEvent struct {
	ID           int64
	Provider     string
	Model        string
	Feature      string
	Kind         string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}

// UsageStat aggregates usage per feature and provider.
type UsageStat struct {
	Feature      string
	Provider     string
	Calls        int
	Failures     int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	AvgLatencyMs int64
}
