package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/lectio/internal/reading"
)

// sequenceCounter hands out the global, monotonically increasing sequence
// stamped on every session event. Two events written in the same
// nanosecond still have a total order.
//
// The mutex serializes within the process; the RETURNING clause makes the
// increment atomic at the database level.
type sequenceCounter struct {
	mu sync.Mutex
	db *sql.DB
}

func newSequenceCounter(db *sql.DB) (*sequenceCounter, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS global_sequence (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		next_val INTEGER NOT NULL DEFAULT 1
	)`)
	if err != nil {
		return nil, fmt.Errorf("create sequence table: %w", err)
	}

	_, err = db.Exec(`INSERT OR IGNORE INTO global_sequence (id, next_val) VALUES (1, 1)`)
	if err != nil {
		return nil, fmt.Errorf("seed sequence: %w", err)
	}

	return &sequenceCounter{db: db}, nil
}

// Reserve atomically claims n consecutive sequence numbers and returns the
// first one.
func (sc *sequenceCounter) Reserve(ctx context.Context, n int) (int64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var first int64
	err := sc.db.QueryRowContext(ctx,
		`UPDATE global_sequence SET next_val = next_val + ? WHERE id = 1 RETURNING next_val - ?`, n, n,
	).Scan(&first)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return first, nil
}

// Next returns a single sequence number.
func (sc *sequenceCounter) Next(ctx context.Context) (int64, error) {
	return sc.Reserve(ctx, 1)
}

type eventRow struct {
	ID        string `sql:"id"`
	SessionID string `sql:"session_id"`
	Sequence  int64  `sql:"sequence"`
	EventType string `sql:"event_type"`
	Payload   string `sql:"payload"`
	CreatedAt int64  `sql:"created_at"`
}

var eventColumns = []string{"id", "session_id", "sequence", "event_type", "payload", "created_at"}

// AppendEvents writes events in one statement. Sequence numbers are assigned
// here in argument order; any Sequence set by the caller is ignored.
func (s *Store) AppendEvents(ctx context.Context, events ...reading.Event) error {
	if len(events) == 0 {
		return nil
	}
	first, err := s.seq.Reserve(ctx, len(events))
	if err != nil {
		return err
	}

	ins := builder().Insert("session_events").Columns(eventColumns...)
	for i, e := range events {
		payload := e.Payload
		if payload == nil {
			payload = reading.Payload{}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload for %s: %w", e.Type, err)
		}
		ins.Values(e.ID, e.SessionID, first+int64(i), string(e.Type), string(raw), toNanos(e.CreatedAt))
	}

	query, args := ins.Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert session events: %w", err)
	}
	return nil
}

// ListEvents returns a session's events oldest first, optionally filtered by
// type and trimmed to the most recent q.Last.
func (s *Store) ListEvents(ctx context.Context, sessionID string, q reading.EventQuery) ([]reading.Event, error) {
	sel := builder().Select(eventColumns...).
		From(entsql.Table("session_events")).
		Where(eventFilter(sessionID, q.Types))
	if q.Last > 0 {
		sel.OrderBy(entsql.Desc("created_at"), entsql.Desc("sequence")).Limit(q.Last)
	} else {
		sel.OrderBy("created_at", "sequence")
	}

	query, args := sel.Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var scanned []eventRow
	if err := entsql.ScanSlice(rows, &scanned); err != nil {
		return nil, fmt.Errorf("scan session events: %w", err)
	}
	if q.Last > 0 {
		slices.Reverse(scanned)
	}

	out := make([]reading.Event, 0, len(scanned))
	for _, r := range scanned {
		e := reading.Event{
			ID:        r.ID,
			SessionID: r.SessionID,
			Sequence:  r.Sequence,
			Type:      reading.EventType(r.EventType),
			Payload:   reading.Payload{},
			CreatedAt: fromNanos(r.CreatedAt),
		}
		if err := json.Unmarshal([]byte(r.Payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of event %s: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// CountEvents counts a session's events of the given types (all types when
// none are given).
func (s *Store) CountEvents(ctx context.Context, sessionID string, types ...reading.EventType) (int, error) {
	query, args := builder().Select(entsql.Count("*")).
		From(entsql.Table("session_events")).
		Where(eventFilter(sessionID, types)).
		Query()

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count session events: %w", err)
	}
	return n, nil
}

func eventFilter(sessionID string, types []reading.EventType) *entsql.Predicate {
	p := entsql.EQ("session_id", sessionID)
	if len(types) == 0 {
		return p
	}
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = string(t)
	}
	return entsql.And(p, entsql.In("event_type", args...))
}
