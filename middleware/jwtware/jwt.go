package jwtware

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-router"
)

// ErrJWTMissingOrMalformed is returned when the request carries no usable token
var ErrJWTMissingOrMalformed = errors.New("missing or malformed session token")

// ErrIdentityMissing is returned when the validated subject has no account
var ErrIdentityMissing = errors.New("session subject has no account")

const (
	// DefaultTokenLookup reads the raw token from the x-auth-token header
	DefaultTokenLookup = "header:x-auth-token"
	// DefaultContextKey is the Locals key holding the validated subject
	DefaultContextKey = "session"
	// DefaultIdentityKey is the Locals key holding the resolved identity
	DefaultIdentityKey = "user"
)

// Subject is what a validated token resolves to
type Subject interface {
	GetUserID() string
}

// TokenValidator checks a raw token and returns its subject
type TokenValidator func(ctx context.Context, raw string) (Subject, error)

// IdentityResolver loads the account behind a subject. Returning a nil
// identity without error is treated as an unknown subject.
type IdentityResolver func(ctx context.Context, subject Subject) (any, error)

// ValidationListener is notified after a request was authenticated
type ValidationListener func(c router.Context, subject Subject, identity any)

// ContextEnricher copies the authenticated values into the request context
type ContextEnricher func(ctx context.Context, subject Subject, identity any) context.Context

// Config holds the middleware options
type Config struct {
	// Filter skips the middleware when it returns true
	Filter func(c router.Context) bool
	// SuccessHandler runs after authentication, defaults to the wrapped handler
	SuccessHandler router.HandlerFunc
	// ErrorHandler renders every failure, defaults to a plain 401
	ErrorHandler     router.ErrorHandler
	TokenValidator   TokenValidator
	IdentityResolver IdentityResolver
	// Optional lets requests without a token through anonymously. A token
	// that is present but invalid still fails.
	Optional bool
	// ContextKey and IdentityKey name the Locals entries
	ContextKey  string
	IdentityKey string
	// TokenLookup is a comma separated list of "source:name" pairs, where
	// source is one of header, query, param or cookie
	TokenLookup string
	// AuthScheme is stripped from header values when set, e.g. "Bearer"
	AuthScheme          string
	ContextEnricher     ContextEnricher
	ValidationListeners []ValidationListener

	extractors []extractor
}

type extractor func(c router.Context) (string, error)

// GetDefaultConfig fills the unset fields of config
func GetDefaultConfig(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("jwtware: TokenValidator is required")
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			return c.Status(router.StatusUnauthorized).SendString("Invalid or expired session token")
		}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.IdentityKey == "" {
		cfg.IdentityKey = DefaultIdentityKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = DefaultTokenLookup
	}

	cfg.extractors = buildExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return cfg
}

// New returns a router middleware that authenticates requests
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		success := cfg.SuccessHandler
		if success == nil {
			success = next
		}
		return func(c router.Context) error {
			if cfg.Filter != nil && cfg.Filter(c) {
				return next(c)
			}
			return authenticate(c, cfg, next, success)
		}
	}
}

func authenticate(c router.Context, cfg Config, next, success router.HandlerFunc) error {
	raw, err := lookupToken(c, cfg.extractors)
	if err != nil {
		if cfg.Optional {
			return next(c)
		}
		return cfg.ErrorHandler(c, err)
	}

	ctx := c.Context()

	subject, err := cfg.TokenValidator(ctx, raw)
	if err != nil {
		return cfg.ErrorHandler(c, err)
	}
	if subject == nil {
		return cfg.ErrorHandler(c, ErrJWTMissingOrMalformed)
	}

	var identity any
	if cfg.IdentityResolver != nil {
		identity, err = cfg.IdentityResolver(ctx, subject)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}
		if identity == nil {
			return cfg.ErrorHandler(c, ErrIdentityMissing)
		}
		c.Locals(cfg.IdentityKey, identity)
	}

	c.Locals(cfg.ContextKey, subject)

	if cfg.ContextEnricher != nil {
		c.SetContext(cfg.ContextEnricher(ctx, subject, identity))
	}

	for _, listener := range cfg.ValidationListeners {
		if listener != nil {
			listener(c, subject, identity)
		}
	}

	return success(c)
}

func lookupToken(c router.Context, extractors []extractor) (string, error) {
	var (
		raw string
		err error
	)
	for _, extract := range extractors {
		raw, err = extract(c)
		if raw != "" && err == nil {
			return raw, nil
		}
	}
	if err == nil {
		err = ErrJWTMissingOrMalformed
	}
	return "", err
}

func buildExtractors(lookup, scheme string) []extractor {
	out := make([]extractor, 0, 1)
	for _, source := range strings.Split(lookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(source), ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[1])
		switch parts[0] {
		case "header":
			out = append(out, jwtFromHeader(name, scheme))
		case "query":
			out = append(out, jwtFromQuery(name))
		case "param":
			out = append(out, jwtFromParam(name))
		case "cookie":
			out = append(out, jwtFromCookie(name))
		}
	}
	return out
}

// jwtFromHeader returns a function that extracts token from the request header.
// With an empty scheme the whole header value is the token.
func jwtFromHeader(header, scheme string) extractor {
	return func(c router.Context) (string, error) {
		value := strings.TrimSpace(c.Header(header))
		if value == "" {
			return "", ErrJWTMissingOrMalformed
		}
		if scheme == "" {
			return value, nil
		}
		l := len(scheme)
		if len(value) > l+1 && strings.EqualFold(value[:l], scheme) && value[l] == ' ' {
			return strings.TrimSpace(value[l+1:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) extractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) extractor {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) extractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
