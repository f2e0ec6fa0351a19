package auth

import (
	"github.com/goliatone/go-router"
)

// Authorize checks the identity role against an explicit allow-list.
// A missing identity is Forbidden as well, the authentication middleware
// is responsible for turning absent tokens into Unauthorized.
func Authorize(user *User, allowed RoleSet) error {
	if user == nil {
		return withDetails(ErrForbidden, map[string]any{"reason": "no identity"})
	}
	if !allowed.Allows(user.Role) {
		return withDetails(ErrForbidden, map[string]any{
			"role": user.Role,
		})
	}
	return nil
}

// RequireRoles returns a middleware that lets the request through only
// when the current identity holds one of roles
func RequireRoles(roles ...Role) router.MiddlewareFunc {
	allowed := NewRoleSet(roles...)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			user, _ := CurrentUser(c)
			if err := Authorize(user, allowed); err != nil {
				return err
			}
			return next(c)
		}
	}
}
