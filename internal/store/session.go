package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/lectio/internal/reading"
)

type sessionRow struct {
	ID               string `sql:"id"`
	UserID           string `sql:"user_id"`
	ContentID        string `sql:"content_id"`
	ContentVersionID string `sql:"content_version_id"`
	Phase            string `sql:"phase"`
	AssetLayer       string `sql:"asset_layer"`
	GoalStatement    string `sql:"goal_statement"`
	PredictionText   string `sql:"prediction_text"`
	TargetWords      string `sql:"target_words"`
	Summary          string `sql:"summary"`
	StartTime        int64  `sql:"start_time"`
	FinishedAt       *int64 `sql:"finished_at"`
	UpdatedAt        int64  `sql:"updated_at"`
}

var sessionColumns = []string{
	"id", "user_id", "content_id", "content_version_id", "phase", "asset_layer",
	"goal_statement", "prediction_text", "target_words", "summary",
	"start_time", "finished_at", "updated_at",
}

func (r sessionRow) toSession() (*reading.Session, error) {
	s := &reading.Session{
		ID:               r.ID,
		UserID:           r.UserID,
		ContentID:        r.ContentID,
		ContentVersionID: r.ContentVersionID,
		Phase:            reading.Phase(r.Phase),
		AssetLayer:       reading.AssetLayer(r.AssetLayer),
		GoalStatement:    r.GoalStatement,
		PredictionText:   r.PredictionText,
		Summary:          r.Summary,
		StartTime:        fromNanos(r.StartTime),
		UpdatedAt:        fromNanos(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.TargetWords), &s.TargetWords); err != nil {
		return nil, fmt.Errorf("decode target words of session %s: %w", r.ID, err)
	}
	if r.FinishedAt != nil {
		t := fromNanos(*r.FinishedAt)
		s.FinishedAt = &t
	}
	return s, nil
}

func finishedAt(s *reading.Session) any {
	if s.FinishedAt == nil {
		return nil
	}
	return toNanos(*s.FinishedAt)
}

func targetWords(s *reading.Session) (string, error) {
	words := s.TargetWords
	if words == nil {
		words = []string{}
	}
	raw, err := json.Marshal(words)
	if err != nil {
		return "", fmt.Errorf("encode target words: %w", err)
	}
	return string(raw), nil
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, sess *reading.Session) error {
	words, err := targetWords(sess)
	if err != nil {
		return err
	}
	query, args := builder().Insert("reading_sessions").
		Columns(sessionColumns...).
		Values(sess.ID, sess.UserID, sess.ContentID, sess.ContentVersionID,
			string(sess.Phase), string(sess.AssetLayer),
			sess.GoalStatement, sess.PredictionText, words, sess.Summary,
			toNanos(sess.StartTime), finishedAt(sess), toNanos(sess.UpdatedAt)).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns the session or reading.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*reading.Session, error) {
	sessions, err := s.querySessions(ctx, entsql.EQ("id", id), 1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, reading.ErrNotFound
	}
	return sessions[0], nil
}

// ListSessions returns a user's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]*reading.Session, error) {
	return s.querySessions(ctx, entsql.EQ("user_id", userID), limit)
}

func (s *Store) querySessions(ctx context.Context, where *entsql.Predicate, limit int) ([]*reading.Session, error) {
	sel := builder().Select(sessionColumns...).
		From(entsql.Table("reading_sessions")).
		Where(where).
		OrderBy(entsql.Desc("start_time"))
	if limit > 0 {
		sel.Limit(limit)
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var scanned []sessionRow
	if err := entsql.ScanSlice(rows, &scanned); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}

	out := make([]*reading.Session, 0, len(scanned))
	for _, r := range scanned {
		sess, err := r.toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// UpdateSession writes every mutable field, but only while the stored phase
// still equals expected. A lost race returns reading.ErrConflict.
func (s *Store) UpdateSession(ctx context.Context, sess *reading.Session, expected reading.Phase) error {
	words, err := targetWords(sess)
	if err != nil {
		return err
	}
	query, args := builder().Update("reading_sessions").
		Set("phase", string(sess.Phase)).
		Set("asset_layer", string(sess.AssetLayer)).
		Set("goal_statement", sess.GoalStatement).
		Set("prediction_text", sess.PredictionText).
		Set("target_words", words).
		Set("summary", sess.Summary).
		Set("finished_at", finishedAt(sess)).
		Set("updated_at", toNanos(sess.UpdatedAt)).
		Where(entsql.And(
			entsql.EQ("id", sess.ID),
			entsql.EQ("phase", string(expected)),
		)).
		Query()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM reading_sessions WHERE id = ?`, sess.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return reading.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	return reading.ErrConflict
}
