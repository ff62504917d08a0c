package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyUserID    contextKey = "user_id"
	keyAPIKey    contextKey = "api_key"
)

// APIKeyInfo carries the identity attached to an authenticated external API key.
// RateLimit is in requests per hour; enforcement happens in middleware, the
// gate only attaches the value.
type APIKeyInfo struct {
	KeyID     string
	UserID    string
	RateLimit int
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithUserID adds user ID to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserID extracts user ID from context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)
	return v, ok && v != ""
}

// WithAPIKey adds authenticated API key info to context.
func WithAPIKey(ctx context.Context, info APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyAPIKey, info)
}

// APIKey extracts authenticated API key info from context.
func APIKey(ctx context.Context) (APIKeyInfo, bool) {
	v, ok := ctx.Value(keyAPIKey).(APIKeyInfo)
	return v, ok && v.UserID != ""
}
