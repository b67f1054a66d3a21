// README: Authenticated user model and request-scoped overrides.
package identity

import (
	"context"
	"errors"
	"strings"

	"ridesync/internal/types"
)

type Role string

const (
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
	// RoleAdmin may run registry maintenance such as clearing all requests.
	RoleAdmin Role = "admin"
)

// ParseRole maps any casing of a role claim onto the canonical role. Unknown roles are customers.
func ParseRole(v string) Role {
	v = strings.TrimSpace(v)
	switch {
	case strings.EqualFold(v, string(RoleDriver)):
		return RoleDriver
	case strings.EqualFold(v, string(RoleAdmin)):
		return RoleAdmin
	}
	return RoleCustomer
}

type User struct {
	ID   types.ID `json:"id"`
	Name string   `json:"name"`
	Role Role     `json:"role"`
}

var ErrNotAuthenticated = errors.New("no authenticated user")

type ctxKey struct{}

// WithUser scopes an authenticated user to ctx. It takes precedence over the stored user.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok && u.ID != ""
}
