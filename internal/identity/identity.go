// Package identity exposes the already-authenticated user to the chat
// core. The core never authenticates; it only reads who is signed in.
package identity

import "context"

// Provider resolves the current user for a request context.
type Provider interface {
	// UserID returns the authenticated user's id, or false when nobody
	// is signed in.
	UserID(ctx context.Context) (string, bool)
	// DisplayName returns the user's display name. Implementations fall
	// back to "Anonymous" when the account has no name set.
	DisplayName(ctx context.Context) string
}

type contextKey string

const (
	userIDKey      contextKey = "identity.user_id"
	displayNameKey contextKey = "identity.display_name"
)

// WithUser attaches an authenticated user to the context. Called by the
// auth middleware after token validation.
func WithUser(ctx context.Context, userID, displayName string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, displayNameKey, displayName)
}

// ContextProvider reads the user the auth middleware stored in the
// request context.
type ContextProvider struct{}

func (ContextProvider) UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func (ContextProvider) DisplayName(ctx context.Context) string {
	if name, ok := ctx.Value(displayNameKey).(string); ok && name != "" {
		return name
	}
	return "Anonymous"
}

// Static always reports one fixed user. Used by tests and tooling.
type Static struct {
	ID   string
	Name string
}

func (s Static) UserID(ctx context.Context) (string, bool) { return s.ID, s.ID != "" }

func (s Static) DisplayName(ctx context.Context) string {
	if s.Name == "" {
		return "Anonymous"
	}
	return s.Name
}
