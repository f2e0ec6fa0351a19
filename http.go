package auth

import (
	stderrors "errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/greensol/go-auth/middleware/jwtware"
)

// DefaultTokenHeader carries the session token on requests and responses
const DefaultTokenHeader = "x-auth-token"

// RouteAuthenticator builds the authentication middleware and renders
// errors for the HTTP surface
type RouteAuthenticator struct {
	auth        Authenticator
	tokenHeader string
	listeners   []ValidationListener
	Logger      Logger
	Debug       bool
}

// NewHTTPAuthenticator returns a RouteAuthenticator reading tokens from
// tokenHeader, DefaultTokenHeader when empty
func NewHTTPAuthenticator(auther Authenticator, tokenHeader string) *RouteAuthenticator {
	if tokenHeader == "" {
		tokenHeader = DefaultTokenHeader
	}
	return &RouteAuthenticator{
		auth:        auther,
		tokenHeader: tokenHeader,
		Logger:      defLogger{},
	}
}

// TokenHeader returns the header name used for session tokens
func (a *RouteAuthenticator) TokenHeader() string {
	return a.tokenHeader
}

// OnAuthenticated adds listeners called after every authenticated request
func (a *RouteAuthenticator) OnAuthenticated(listeners ...ValidationListener) *RouteAuthenticator {
	a.listeners = append(a.listeners, listeners...)
	return a
}

// ProtectedRoute requires a valid token whose subject still exists
func (a *RouteAuthenticator) ProtectedRoute() router.MiddlewareFunc {
	return jwtware.New(a.middlewareConfig(false))
}

// OptionalRoute resolves the identity when a token is sent. A request
// without a token proceeds anonymously, an invalid token is still rejected.
func (a *RouteAuthenticator) OptionalRoute() router.MiddlewareFunc {
	return jwtware.New(a.middlewareConfig(true))
}

func (a *RouteAuthenticator) middlewareConfig(optional bool) jwtware.Config {
	cfg := jwtware.Config{
		TokenValidator:   sessionValidator(a.auth),
		IdentityResolver: identityResolver(a.auth),
		ContextEnricher:  ContextEnricherAdapter,
		ErrorHandler:     a.AuthErrorHandler,
		TokenLookup:      "header:" + a.tokenHeader,
		Optional:         optional,
	}
	RegisterValidationListeners(&cfg, a.listeners...)
	return cfg
}

// AuthErrorHandler turns authentication failures into Unauthorized. Store
// failures met while resolving the identity keep their INTERNAL kind.
func (a *RouteAuthenticator) AuthErrorHandler(c router.Context, err error) error {
	var richErr *errors.Error

	switch {
	case stderrors.Is(err, jwtware.ErrJWTMissingOrMalformed):
		richErr = withDetails(ErrUnauthorized, map[string]any{"reason": "missing"})
	case stderrors.Is(err, jwtware.ErrIdentityMissing):
		richErr = withDetails(ErrUnauthorized, map[string]any{"reason": "unknown subject"})
	case IsKind(err, TextCodeUnauthorized):
		richErr = AsRichError(err)
	case carriesKind(err, TextCodeInternal):
		richErr = AsRichError(err)
	default:
		a.Logger.Warn("Authentication failed", "error", err, "path", c.OriginalURL())
		richErr = ErrUnauthorized.Clone()
	}

	return richErr
}

// ErrorHandler renders err as the JSON error envelope. It is meant to be
// installed as the fiber application ErrorHandler.
func (a *RouteAuthenticator) ErrorHandler(c *fiber.Ctx, err error) error {
	return renderError(c, a.Logger, a.Debug, err)
}

// FiberConfig returns a fiber configuration that renders errors through
// the JSON envelope
func FiberConfig(logger Logger) fiber.Config {
	logger = normalizeLogger(logger)
	return fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return renderError(c, logger, false, err)
		},
	}
}

// ErrorEnvelope is the body of every error response
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one failure
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func renderError(c *fiber.Ctx, logger Logger, debug bool, err error) error {
	richErr := richErrorFor(err)

	body := ErrorBody{
		Kind:    richErr.TextCode,
		Code:    richErr.Code,
		Message: richErr.Message,
		Details: richErr.Metadata,
	}

	if body.Kind == TextCodeInternal {
		logger.Error("Request failed", "error", err, "path", c.OriginalURL())
		body.Details = nil
	} else if debug {
		logger.Debug("Request rejected",
			"kind", body.Kind,
			"path", c.OriginalURL(),
			"details", print.MaybePrettyJSON(body.Details),
		)
	}

	return c.Status(body.Code).JSON(ErrorEnvelope{Error: body})
}

func richErrorFor(err error) *errors.Error {
	var fiberErr *fiber.Error
	if stderrors.As(err, &fiberErr) {
		kind := kindForStatus(fiberErr.Code)
		return errors.New(strings.ToLower(fiberErr.Message), categoryForKind(kind)).
			WithTextCode(kind).
			WithCode(fiberErr.Code)
	}

	richErr := AsRichError(err)
	if richErr.TextCode == "" {
		richErr = richErr.Clone().WithTextCode(kindForStatus(richErr.Code))
	}
	if richErr.TextCode == TextCodeInternal {
		richErr = richErr.Clone()
		richErr.Message = "an unexpected server error occurred"
	}
	return richErr
}

func kindForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return TextCodeValidation
	case fiber.StatusConflict:
		return TextCodeConflict
	case fiber.StatusUnauthorized:
		return TextCodeUnauthorized
	case fiber.StatusForbidden:
		return TextCodeForbidden
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return TextCodeNotFound
	default:
		return TextCodeInternal
	}
}

func categoryForKind(kind string) errors.Category {
	switch kind {
	case TextCodeValidation:
		return errors.CategoryValidation
	case TextCodeConflict:
		return errors.CategoryConflict
	case TextCodeUnauthorized:
		return errors.CategoryAuth
	case TextCodeForbidden:
		return errors.CategoryAuthz
	case TextCodeNotFound:
		return errors.CategoryNotFound
	default:
		return errors.CategoryInternal
	}
}
