package logger

import "context"

type contextKey int

const (
	connIDKey contextKey = iota
	userIDKey
)

// WithConnID adds a connection ID to the context
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey, connID)
}

// WithUserID adds an authenticated user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ConnIDFromContext retrieves the connection ID from context
func ConnIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(connIDKey).(string); ok {
		return v
	}
	return ""
}

// UserIDFromContext retrieves the user ID from context
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
