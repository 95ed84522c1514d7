// Package gating decides which asset layer a reader gets for a text.
package gating

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/lectio/internal/reading"
)

// levelRank orders education levels. Unknown levels rank as MEDIO.
var levelRank = map[string]int{
	"PRIMARIA": 1,
	"BASICO":   2,
	"MEDIO":    3,
	"SUPERIOR": 4,
	"POSGRADO": 5,
}

const (
	defaultRank       = 3
	defaultDifficulty = 3
)

// Gate compares the reader's education level with the content difficulty
// (1 easiest to 5 hardest, 0 unknown).
type Gate struct {
	profiles reading.ProfileLookup
	contents reading.ContentLookup
}

// New creates a Gate.
func New(profiles reading.ProfileLookup, contents reading.ContentLookup) *Gate {
	return &Gate{profiles: profiles, contents: contents}
}

var _ reading.LayerGate = (*Gate)(nil)

// DetermineLayer returns L1 when the text is above the reader's level, L3
// when it is below, and L2 otherwise.
func (g *Gate) DetermineLayer(ctx context.Context, userID, contentID string) (reading.AssetLayer, error) {
	profile, err := g.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	content, err := g.contents.FindContent(ctx, contentID)
	if err != nil {
		return "", fmt.Errorf("load content: %w", err)
	}
	return Layer(profile.EducationLevel, content.Difficulty), nil
}

// Layer maps an education level and a difficulty to an asset layer.
func Layer(educationLevel string, difficulty int) reading.AssetLayer {
	rank, ok := levelRank[strings.ToUpper(strings.TrimSpace(educationLevel))]
	if !ok {
		rank = defaultRank
	}
	if difficulty < 1 || difficulty > 5 {
		difficulty = defaultDifficulty
	}

	switch gap := difficulty - rank; {
	case gap > 0:
		return reading.LayerL1
	case gap < 0:
		return reading.LayerL3
	default:
		return reading.LayerL2
	}
}
