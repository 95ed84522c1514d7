package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/lectio/internal/reading"
)

// DefaultEducationLevel is given to profiles created on first use.
const DefaultEducationLevel = "MEDIO"

type contentRow struct {
	ID         string `sql:"id"`
	Title      string `sql:"title"`
	RawText    string `sql:"raw_text"`
	VersionID  string `sql:"version_id"`
	Difficulty int    `sql:"difficulty"`
}

// AddContent stores a text, generating ids when missing. Re-adding an
// existing id replaces its text and metadata.
func (s *Store) AddContent(ctx context.Context, c reading.Content) (*reading.Content, error) {
	if strings.TrimSpace(c.RawText) == "" {
		return nil, errors.New("content text is empty")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.VersionID == "" {
		c.VersionID = uuid.NewString()
	}

	query, args := builder().Insert("contents").
		Columns("id", "title", "raw_text", "version_id", "difficulty", "created_at").
		Values(c.ID, c.Title, c.RawText, c.VersionID, c.Difficulty, toNanos(s.now())).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("title")
				u.SetExcluded("raw_text")
				u.SetExcluded("version_id")
				u.SetExcluded("difficulty")
			}),
		).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert content: %w", err)
	}
	return &c, nil
}

// FindContent returns the content or reading.ErrNotFound.
func (s *Store) FindContent(ctx context.Context, contentID string) (*reading.Content, error) {
	rows, err := s.queryContents(ctx, entsql.EQ("id", contentID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, reading.ErrNotFound
	}
	return &rows[0], nil
}

// ListContents returns every stored text, most recent first.
func (s *Store) ListContents(ctx context.Context) ([]reading.Content, error) {
	return s.queryContents(ctx, nil)
}

func (s *Store) queryContents(ctx context.Context, where *entsql.Predicate) ([]reading.Content, error) {
	sel := builder().Select("id", "title", "raw_text", "version_id", "difficulty").
		From(entsql.Table("contents")).
		OrderBy(entsql.Desc("created_at"))
	if where != nil {
		sel.Where(where)
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contents: %w", err)
	}
	defer rows.Close()

	var scanned []contentRow
	if err := entsql.ScanSlice(rows, &scanned); err != nil {
		return nil, fmt.Errorf("scan contents: %w", err)
	}
	out := make([]reading.Content, len(scanned))
	for i, r := range scanned {
		out[i] = reading.Content(r)
	}
	return out, nil
}

// GetOrCreateProfile returns the user's profile, creating one with
// DefaultEducationLevel on first use.
func (s *Store) GetOrCreateProfile(ctx context.Context, userID string) (*reading.Profile, error) {
	query, args := builder().Insert("profiles").
		Columns("user_id", "education_level", "created_at").
		Values(userID, DefaultEducationLevel, toNanos(s.now())).
		OnConflict(entsql.ConflictColumns("user_id"), entsql.DoNothing()).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	p := &reading.Profile{UserID: userID}
	err := s.db.QueryRowContext(ctx, `SELECT education_level FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.EducationLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reading.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// SetEducationLevel creates or updates a profile's education level.
func (s *Store) SetEducationLevel(ctx context.Context, userID, level string) error {
	query, args := builder().Insert("profiles").
		Columns("user_id", "education_level", "created_at").
		Values(userID, strings.ToUpper(strings.TrimSpace(level)), toNanos(s.now())).
		OnConflict(
			entsql.ConflictColumns("user_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) { u.SetExcluded("education_level") }),
		).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set education level: %w", err)
	}
	return nil
}
