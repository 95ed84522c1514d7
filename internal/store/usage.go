package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

type usageRow struct {
	ID           int64   `sql:"id"`
	Provider     string  `sql:"provider"`
	Model        string  `sql:"model"`
	Feature      string  `sql:"feature"`
	Kind         string  `sql:"kind"`
	InputTokens  int     `sql:"input_tokens"`
	OutputTokens int     `sql:"output_tokens"`
	TotalTokens  int     `sql:"total_tokens"`
	CostUSD      float64 `sql:"cost_usd"`
	LatencyMs    int64   `sql:"latency_ms"`
	Success      bool    `sql:"success"`
	ErrorMessage string  `sql:"error_message"`
	CreatedAt    int64   `sql:"created_at"`
}

var usageColumns = []string{
	"id", "provider", "model", "feature", "kind",
	"input_tokens", "output_tokens", "total_tokens", "cost_usd",
	"latency_ms", "success", "error_message", "created_at",
}

func (r usageRow) toEvent() UsageEvent {
	return UsageEvent{
		ID:           r.ID,
		Provider:     r.Provider,
		Model:        r.Model,
		Feature:      r.Feature,
		Kind:         r.Kind,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		CostUSD:      r.CostUSD,
		LatencyMs:    r.LatencyMs,
		Success:      r.Success,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    fromNanos(r.CreatedAt),
	}
}

// AppendUsage records an LLM call.
func (s *Store) AppendUsage(ctx context.Context, e UsageEvent) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	query, args := builder().Insert("usage_events").
		Columns(usageColumns[1:]...).
		Values(e.Provider, e.Model, e.Feature, e.Kind,
			e.InputTokens, e.OutputTokens, e.TotalTokens, e.CostUSD,
			e.LatencyMs, e.Success, e.ErrorMessage, toNanos(created)).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save usage event: %w", err)
	}
	return nil
}

// QueryUsage returns usage events, newest first.
func (s *Store) QueryUsage(ctx context.Context, opts QueryOpts) ([]UsageEvent, error) {
	sel := builder().Select(usageColumns...).
		From(entsql.Table("usage_events")).
		OrderBy(entsql.Desc("id"))
	if p := usageFilter(opts); p != nil {
		sel.Where(p)
	}
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var scanned []usageRow
	if err := entsql.ScanSlice(rows, &scanned); err != nil {
		return nil, fmt.Errorf("scan usage events: %w", err)
	}
	out := make([]UsageEvent, len(scanned))
	for i, r := range scanned {
		out[i] = r.toEvent()
	}
	return out, nil
}

// GetUsage returns one usage event, or nil if it does not exist.
func (s *Store) GetUsage(ctx context.Context, id int64) (*UsageEvent, error) {
	query, args := builder().Select(usageColumns...).
		From(entsql.Table("usage_events")).
		Where(entsql.EQ("id", id)).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage event: %w", err)
	}
	defer rows.Close()

	var scanned []usageRow
	if err := entsql.ScanSlice(rows, &scanned); err != nil {
		return nil, fmt.Errorf("scan usage event: %w", err)
	}
	if len(scanned) == 0 {
		return nil, nil
	}
	e := scanned[0].toEvent()
	return &e, nil
}

// UsageStats aggregates usage per feature and provider, most expensive first.
func (s *Store) UsageStats(ctx context.Context, opts QueryOpts) ([]UsageStat, error) {
	sel := builder().Select(
		"feature",
		"provider",
		entsql.As(entsql.Count("*"), "calls"),
		entsql.As("SUM(CASE WHEN success THEN 0 ELSE 1 END)", "failures"),
		entsql.As(entsql.Sum("input_tokens"), "input_tokens"),
		entsql.As(entsql.Sum("output_tokens"), "output_tokens"),
		entsql.As(entsql.Sum("cost_usd"), "cost_usd"),
		entsql.As("CAST(AVG(latency_ms) AS INTEGER)", "avg_latency_ms"),
	).
		From(entsql.Table("usage_events")).
		GroupBy("feature", "provider").
		OrderBy(entsql.Desc("cost_usd"))
	if p := usageFilter(opts); p != nil {
		sel.Where(p)
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage stats: %w", err)
	}
	defer rows.Close()

	var out []UsageStat
	for rows.Next() {
		var st UsageStat
		var cost sql.NullFloat64
		if err := rows.Scan(&st.Feature, &st.Provider, &st.Calls, &st.Failures,
			&st.InputTokens, &st.OutputTokens, &cost, &st.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan usage stats: %w", err)
		}
		st.CostUSD = cost.Float64
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage stats: %w", err)
	}
	return out, nil
}

func usageFilter(opts QueryOpts) *entsql.Predicate {
	var preds []*entsql.Predicate
	if opts.Feature != "" {
		preds = append(preds, entsql.EQ("feature", opts.Feature))
	}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("created_at", toNanos(opts.From)))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("created_at", toNanos(opts.To)))
	}
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return entsql.And(preds...)
}
