package tutor

// Config holds tutor turn generation settings.
type Config struct {
	// AllowDegraded lets the placeholder provider answer an utterance when
	// every real provider failed.
	AllowDegraded bool `koanf:"allow_degraded"`

	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`

	// MaxQuickReplies caps the suggestions returned to the client.
	MaxQuickReplies int `koanf:"max_quick_replies"`
}

// DefaultConfig returns sensible defaults for tutor turns.
func DefaultConfig() Config {
	return Config{
		AllowDegraded:   true,
		MaxTokens:       700,
		Temperature:     0.4,
		MaxQuickReplies: 4,
	}
}
