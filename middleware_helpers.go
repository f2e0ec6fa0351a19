package auth

import (
	"context"

	"github.com/greensol/go-auth/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so consumers can use auth helpers directly.
type ValidationListener = jwtware.ValidationListener

// ContextEnricherAdapter stores the validated session and the resolved
// account in the standard context for code below the HTTP layer.
func ContextEnricherAdapter(c context.Context, subject jwtware.Subject, identity any) context.Context {
	if session, ok := subject.(Session); ok {
		c = WithSessionContext(c, session)
	}
	if user, ok := identity.(*User); ok && user != nil {
		c = WithContext(c, user)
	}
	return c
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// sessionValidator exposes an Authenticator to the middleware
func sessionValidator(auther Authenticator) jwtware.TokenValidator {
	return func(ctx context.Context, raw string) (jwtware.Subject, error) {
		session, err := auther.SessionFromToken(ctx, raw)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// identityResolver re-reads the account behind a session so deleted users
// and role changes take effect before the token expires
func identityResolver(auther Authenticator) jwtware.IdentityResolver {
	return func(ctx context.Context, subject jwtware.Subject) (any, error) {
		session, ok := subject.(Session)
		if !ok {
			return nil, ErrUnauthorized.Clone()
		}
		user, err := auther.IdentityFromSession(ctx, session)
		if err != nil {
			return nil, err
		}
		return user, nil
	}
}
