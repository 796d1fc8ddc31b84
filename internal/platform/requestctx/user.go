// Package requestctx carries caller attribution through contexts so log lines
// deep in a call chain can name who triggered them.
package requestctx

import "context"

type userIDContextKey struct{}

type connectionIDContextKey struct{}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext returns the user id stored in ctx, or "".
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDContextKey{}).(string)
	return value
}

// WithConnectionID stores the realtime connection id in ctx.
func WithConnectionID(ctx context.Context, connID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, connectionIDContextKey{}, connID)
}

// ConnectionIDFromContext returns the connection id stored in ctx, or "".
func ConnectionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(connectionIDContextKey{}).(string)
	return value
}

// Attribution renders the stored ids as log fields, omitting empty ones.
func Attribution(ctx context.Context) string {
	out := ""
	if connID := ConnectionIDFromContext(ctx); connID != "" {
		out = "connection=" + connID
	}
	if userID := UserIDFromContext(ctx); userID != "" {
		if out != "" {
			out += " "
		}
		out += "user=" + userID
	}
	return out
}
