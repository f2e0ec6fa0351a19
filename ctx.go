package auth

import (
	"context"

	"github.com/goliatone/go-router"

	"github.com/greensol/go-auth/middleware/jwtware"
)

var userCtxKey = &contextKey{"user"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// WithSessionContext sets the Session in the given context
func WithSessionContext(r context.Context, session Session) context.Context {
	return context.WithValue(r, sessionCtxKey, session)
}

// SessionFromContext extracts the Session from the standard context
func SessionFromContext(ctx context.Context) (Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(Session)
	return raw, ok && raw != nil
}

// CurrentUser returns the identity resolved by the authentication
// middleware for this request
func CurrentUser(c router.Context) (*User, bool) {
	raw, ok := c.Locals(jwtware.DefaultIdentityKey).(*User)
	return raw, ok && raw != nil
}

// CurrentSession returns the validated session of this request
func CurrentSession(c router.Context) (Session, bool) {
	raw, ok := c.Locals(jwtware.DefaultContextKey).(Session)
	return raw, ok && raw != nil
}
