package context

import (
	"context"
	"slices"
)

// UserContext is the authenticated actor of a ledger operation. Role is the
// primary role from the token; Roles carries any additional grants.
type UserContext struct {
	UserID string
	Email  string
	Role   string
	Roles  []string
}

// Has reports whether the actor holds role.
func (u *UserContext) Has(role string) bool {
	if u == nil {
		return false
	}
	return u.Role == role || slices.Contains(u.Roles, role)
}

type userKey struct{}

// WithUser stores the actor in ctx.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// GetUser returns the actor or nil for anonymous work (worker jobs, CLI).
func GetUser(ctx context.Context) *UserContext {
	u, _ := ctx.Value(userKey{}).(*UserContext)
	return u
}

// GetUserID returns the actor id, empty when anonymous.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// HasAnyRole reports whether the actor holds at least one of roles.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	u := GetUser(ctx)
	return slices.ContainsFunc(roles, u.Has)
}
