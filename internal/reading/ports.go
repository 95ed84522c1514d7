package reading

import "context"

// SessionRepo persists sessions. UpdateSession is a compare-and-swap on
// phase: it writes only when the stored phase still equals expected and
// returns ErrConflict otherwise.
type SessionRepo interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session, expected Phase) error
}

// EventRepo is the append-only session event log.
type EventRepo interface {
	AppendEvents(ctx context.Context, events ...Event) error
	ListEvents(ctx context.Context, sessionID string, q EventQuery) ([]Event, error)
	CountEvents(ctx context.Context, sessionID string, types ...EventType) (int, error)
}

// OutcomeRepo stores at most one outcome per session.
type OutcomeRepo interface {
	UpsertOutcome(ctx context.Context, o Outcome) error
	GetOutcome(ctx context.Context, sessionID string) (*Outcome, error)
}

// Repository is everything the session engine needs from storage.
type Repository interface {
	SessionRepo
	EventRepo
	OutcomeRepo
}

// ContentLookup finds content by id, returning ErrNotFound when absent.
type ContentLookup interface {
	FindContent(ctx context.Context, contentID string) (*Content, error)
}

// ProfileLookup returns the profile for a user, creating a default one if needed.
type ProfileLookup interface {
	GetOrCreateProfile(ctx context.Context, userID string) (*Profile, error)
}

// LayerGate decides the difficulty tier a user gets for a piece of content.
type LayerGate interface {
	DetermineLayer(ctx context.Context, userID, contentID string) (AssetLayer, error)
}
