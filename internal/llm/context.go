package llm

import "context"

type contextKey string

const featureKey contextKey = "llm_feature"

// WithFeature tags the context with the product feature making LLM calls,
// e.g. "tutor_turn". Usage records carry the tag.
func WithFeature(ctx context.Context, feature string) context.Context {
	return context.WithValue(ctx, featureKey, feature)
}

// FeatureFrom extracts the feature tag from the context.
func FeatureFrom(ctx context.Context) string {
	if v, ok := ctx.Value(featureKey).(string); ok {
		return v
	}
	return "unknown"
}
