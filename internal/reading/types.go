package reading

import (
	"time"
)

// Phase is where a reading session is in its guided workflow.
type Phase string

const (
	PhasePre      Phase = "PRE"
	PhaseDuring   Phase = "DURING"
	PhasePost     Phase = "POST"
	PhaseFinished Phase = "FINISHED"
)

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhasePre, PhaseDuring, PhasePost, PhaseFinished:
		return true
	}
	return false
}

// AssetLayer is the difficulty tier assigned to content for a given reader.
type AssetLayer string

const (
	LayerL1 AssetLayer = "L1"
	LayerL2 AssetLayer = "L2"
	LayerL3 AssetLayer = "L3"
)

// Session is one reading attempt of a user on a piece of content.
// FinishedAt is set iff Phase is PhaseFinished.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	ContentID        string     `json:"content_id"`
	ContentVersionID string     `json:"content_version_id,omitempty"`
	Phase            Phase      `json:"phase"`
	AssetLayer       AssetLayer `json:"asset_layer"`
	GoalStatement    string     `json:"goal_statement"`
	PredictionText   string     `json:"prediction_text"`
	TargetWords      []string   `json:"target_words"`
	Summary          string     `json:"summary"`
	StartTime        time.Time  `json:"start_time"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// EventType is an open enum. Unknown types are stored and listed like any other.
type EventType string

const (
	EventMarkUnknownWord    EventType = "MARK_UNKNOWN_WORD"
	EventMarkKeyIdea        EventType = "MARK_KEY_IDEA"
	EventCheckpointResponse EventType = "CHECKPOINT_RESPONSE"
	EventQuizResponse       EventType = "QUIZ_RESPONSE"
	EventProductionSubmit   EventType = "PRODUCTION_SUBMIT"
	EventPhaseRequest       EventType = "PHASE_REQUEST"

	EventPromptSent     EventType = "PROMPT_SENT"
	EventPromptReceived EventType = "PROMPT_RECEIVED"

	// Informational events the tutor model may ask to record.
	EventQuizQuestion       EventType = "QUIZ_QUESTION"
	EventCheckpointQuestion EventType = "CHECKPOINT_QUESTION"
	EventVocabDefinition    EventType = "VOCAB_DEFINITION"
)

// Payload is the structured body of an event. Its shape depends on the type.
type Payload map[string]any

// Payload keys shared by the parser, the tutor and the scoring engine.
const (
	KeyText        = "text"
	KeyWord        = "word"
	KeyNormalized  = "normalized"
	KeyLang        = "lang"
	KeyCorrect     = "correct"
	KeyTargetPhase = "to"
	KeyRole        = "role"
	KeyProvider    = "provider"
	KeyModel       = "model"
	KeyUsage       = "usage"
)

// String returns the string value at key, or "" when missing or not a string.
func (p Payload) String(key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns the boolean value at key and whether it was present.
func (p Payload) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// Event is an immutable, append-only fact belonging to one session.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Sequence  int64     `json:"sequence"`
	Type      EventType `json:"event_type"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// EventQuery filters ListEvents. Last keeps only the most recent N matches;
// results are always ordered oldest first.
type EventQuery struct {
	Types []EventType
	Last  int
}

// Outcome holds the three end-of-session scores, each clamped to [0,100].
type Outcome struct {
	SessionID          string    `json:"session_id"`
	ComprehensionScore int       `json:"comprehension_score"`
	ProductionScore    int       `json:"production_score"`
	FrustrationIndex   int       `json:"frustration_index"`
	ComputedAt         time.Time `json:"computed_at"`
}

// Content is a readable text as seen by the session engine.
type Content struct {
	ID         string
	Title      string
	RawText    string
	VersionID  string
	Difficulty int
}

// Profile is the part of a user profile the engine reads.
type Profile struct {
	UserID         string
	EducationLevel string
}

// PreReading is the goal-setting input that moves a session from PRE to DURING.
type PreReading struct {
	GoalStatement  string   `json:"goal_statement"`
	PredictionText string   `json:"prediction_text"`
	TargetWords    []string `json:"target_words"`
}
