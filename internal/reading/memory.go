package reading

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// GateFunc adapts a function to LayerGate.
type GateFunc func(ctx context.Context, userID, contentID string) (AssetLayer, error)

func (f GateFunc) DetermineLayer(ctx context.Context, userID, contentID string) (AssetLayer, error) {
	return f(ctx, userID, contentID)
}

// MemoryRepo is an in-process Repository, ContentLookup and ProfileLookup.
// It is used by tests and by callers that do not need durability.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
	events   map[string][]Event
	outcomes map[string]Outcome
	contents map[string]Content
	profiles map[string]Profile
	seq      int64
}

// NewMemoryRepo creates an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sessions: make(map[string]Session),
		events:   make(map[string][]Event),
		outcomes: make(map[string]Outcome),
		contents: make(map[string]Content),
		profiles: make(map[string]Profile),
	}
}

// AddContent registers content for FindContent.
func (r *MemoryRepo) AddContent(c Content) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contents[c.ID] = c
}

// SetProfile registers a profile for GetOrCreateProfile.
func (r *MemoryRepo) SetProfile(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.UserID] = p
}

func (r *MemoryRepo) FindContent(_ context.Context, contentID string) (*Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contents[contentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *MemoryRepo) GetOrCreateProfile(_ context.Context, userID string) (*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		p = Profile{UserID: userID}
		r.profiles[userID] = p
	}
	return &p, nil
}

func (r *MemoryRepo) CreateSession(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = cloneSession(*s)
	return nil
}

func (r *MemoryRepo) GetSession(_ context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s = cloneSession(s)
	return &s, nil
}

func (r *MemoryRepo) UpdateSession(_ context.Context, s *Session, expected Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Phase != expected {
		return ErrConflict
	}
	r.sessions[s.ID] = cloneSession(*s)
	return nil
}

func (r *MemoryRepo) AppendEvents(_ context.Context, events ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		r.seq++
		e.Sequence = r.seq
		r.events[e.SessionID] = append(r.events[e.SessionID], e)
	}
	return nil
}

func (r *MemoryRepo) ListEvents(_ context.Context, sessionID string, q EventQuery) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events[sessionID] {
		if len(q.Types) == 0 || slices.Contains(q.Types, e.Type) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Last > 0 && len(out) > q.Last {
		out = out[len(out)-q.Last:]
	}
	return out, nil
}

func (r *MemoryRepo) CountEvents(_ context.Context, sessionID string, types ...EventType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events[sessionID] {
		if len(types) == 0 || slices.Contains(types, e.Type) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) UpsertOutcome(_ context.Context, o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o.SessionID] = o
	return nil
}

func (r *MemoryRepo) GetOutcome(_ context.Context, sessionID string) (*Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func cloneSession(s Session) Session {
	s.TargetWords = slices.Clone(s.TargetWords)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}
	return s
}
