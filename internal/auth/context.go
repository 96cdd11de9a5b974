// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import "context"

// AuthContext holds the authenticated identity information extracted from a
// request. Populated by the HTTP middleware and retrieved in handlers.
type AuthContext struct {
	UserID string // UUID of the authenticated user
	Name   string // account name
	Role   string // "admin" or "member"
}

// IsAdmin returns true if the user has the admin role.
func (a *AuthContext) IsAdmin() bool {
	return a.Role == "admin"
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}
