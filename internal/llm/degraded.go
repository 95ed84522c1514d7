package llm

import (
	"context"
	"encoding/json"
)

const (
	stopDegraded = "degraded"

	// DegradedName is the Name of the degraded provider.
	DegradedName = "degraded"

	defaultDegradedMessage = "The tutor is temporarily unavailable. Keep reading and mark unknown words " +
		"with [[word]] or key ideas with {{idea}}; we will pick up from there."
)

// DegradedProvider always succeeds with a fixed placeholder. It sits last in
// the Orchestrator's list so callers that allow degraded mode never see an
// error.
type DegradedProvider struct {
	message   string
	embedDims int
}

// NewDegradedProvider creates the fallback provider. An empty message uses
// a stock placeholder. When embedDims is positive the provider also returns
// zero vectors of that size from Embed.
func NewDegradedProvider(message string, embedDims int) *DegradedProvider {
	if message == "" {
		message = defaultDegradedMessage
	}
	return &DegradedProvider{message: message, embedDims: embedDims}
}

func (d *DegradedProvider) Name() string { return DegradedName }
func (d *DegradedProvider) ModelID() string { return DegradedName }
func (d *DegradedProvider) Available() bool { return true }

// Generate ignores the request and returns the placeholder as plain text,
// even when a schema was requested.
func (d *DegradedProvider) Generate(_ context.Context, _ Request) (*Response, error) {
	return &Response{
		Content:    json.RawMessage(d.message),
		Provider:   DegradedName,
		Model:      DegradedName,
		StopReason: stopDegraded,
	}, nil
}

// Embed returns a zero vector when configured with dimensions.
func (d *DegradedProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	if d.embedDims <= 0 {
		return nil, ErrEmbeddingUnsupported
	}
	return make([]float32, d.embedDims), nil
}

// IsDegraded reports whether p, after unwrapping decorators, is the
// degraded fallback.
func IsDegraded(p Provider) bool {
	_, ok := Base(p).(*DegradedProvider)
	return ok
}
