package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/lectio/internal/reading"
)

// UpsertOutcome creates or overwrites the outcome of a session.
func (s *Store) UpsertOutcome(ctx context.Context, o reading.Outcome) error {
	query, args := builder().Insert("session_outcomes").
		Columns("session_id", "comprehension_score", "production_score", "frustration_index", "computed_at").
		Values(o.SessionID, o.ComprehensionScore, o.ProductionScore, o.FrustrationIndex, toNanos(o.ComputedAt)).
		OnConflict(
			entsql.ConflictColumns("session_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert outcome: %w", err)
	}
	return nil
}

// GetOutcome returns the session's outcome or reading.ErrNotFound.
func (s *Store) GetOutcome(ctx context.Context, sessionID string) (*reading.Outcome, error) {
	query, args := builder().
		Select("comprehension_score", "production_score", "frustration_index", "computed_at").
		From(entsql.Table("session_outcomes")).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	o := reading.Outcome{SessionID: sessionID}
	var computed int64
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&o.ComprehensionScore, &o.ProductionScore, &o.FrustrationIndex, &computed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reading.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	o.ComputedAt = fromNanos(computed)
	return &o, nil
}
