package middleware

import "context"

// Context keys for claims extracted from the caller's certificate once the
// upstream certificate validator has signed off on it.
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user's id.
	UserIDKey contextKey = "user_id"
	// TierKey is the context key for the security tier (exchange) the
	// message arrived on.
	TierKey contextKey = "tier"
	// DelegationGlobaleKey is the context key for the caller's global
	// delegation flag (proprietaire-level access).
	DelegationGlobaleKey contextKey = "delegation_globale"
)

// WithUserID returns a new context with the user id set.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithTier returns a new context with the security tier set.
func WithTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, TierKey, tier)
}

// WithDelegationGlobale marks the context as carrying owner-level delegation.
func WithDelegationGlobale(ctx context.Context, delegated bool) context.Context {
	return context.WithValue(ctx, DelegationGlobaleKey, delegated)
}

// GetUserID extracts the user id from the context.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(UserIDKey).(string)
	return v, ok
}

// GetTier extracts the security tier from the context.
func GetTier(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(TierKey).(string)
	return v, ok
}

// GetDelegationGlobale reports whether the caller carries owner-level
// delegation.
func GetDelegationGlobale(ctx context.Context) bool {
	v, _ := ctx.Value(DelegationGlobaleKey).(bool)
	return v
}
