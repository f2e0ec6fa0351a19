package auth

import (
	stderrors "errors"
	"net/http"

	"github.com/goliatone/go-errors"
)

// Stable error kinds, exposed to clients as the error text code
const (
	TextCodeValidation            = "VALIDATION_ERROR"
	TextCodeConflict              = "CONFLICT"
	TextCodeUnauthorized          = "UNAUTHORIZED"
	TextCodeForbidden             = "FORBIDDEN"
	TextCodeNotFound              = "NOT_FOUND"
	TextCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeInternal              = "INTERNAL"
)

// ErrValidation is returned for malformed input, before any mutation
var ErrValidation = errors.New("validation error", errors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(errors.CodeBadRequest)

// ErrConflict is returned when the email or username is already taken
var ErrConflict = errors.New("user already exists", errors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(errors.CodeConflict)

// ErrInvalidCredentials is the single login failure. Unknown email and
// wrong password are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(errors.CodeUnauthorized)

// ErrUnauthorized is returned for a missing, invalid or expired session token
var ErrUnauthorized = errors.New("invalid or missing session token", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(errors.CodeUnauthorized)

// ErrForbidden is returned when the identity role is not allowed
var ErrForbidden = errors.New("access denied, you don't have the permission to access this resource", errors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(errors.CodeForbidden)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("user not found", errors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidOrExpiredToken is returned when a verification ticket does not
// match any pending account or has expired
var ErrInvalidOrExpiredToken = errors.New("invalid or expired verification token", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidOrExpiredToken).
	WithCode(errors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = stderrors.New("empty string not allowed")

// ErrMismatchedHashAndPassword is returned by the hasher on mismatch
var ErrMismatchedHashAndPassword = stderrors.New("password does not match hash")

// internalError wraps infrastructure failures
func internalError(err error, msg string) *errors.Error {
	return errors.Wrap(err, errors.CategoryInternal, msg).
		WithTextCode(TextCodeInternal).
		WithCode(errors.CodeInternal)
}

// withDetails returns a copy of a sentinel enriched with metadata
func withDetails(sentinel *errors.Error, details map[string]any) *errors.Error {
	clone := sentinel.Clone()
	if len(details) == 0 {
		return clone
	}
	return clone.WithMetadata(details)
}

// ErrorKind returns the stable kind of err, INTERNAL for unknown errors
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return TextCodeInternal
}

// carriesKind is IsKind without the INTERNAL fallback for foreign errors
func carriesKind(err error, kind string) bool {
	var richErr *errors.Error
	return errors.As(err, &richErr) && richErr.TextCode == kind
}

// IsKind reports whether err carries the given stable kind
func IsKind(err error, kind string) bool {
	return err != nil && ErrorKind(err) == kind
}

// AsRichError normalizes any error into a go-errors value carrying an HTTP code
func AsRichError(err error) *errors.Error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		if richErr.Code == 0 {
			richErr = richErr.Clone().WithCode(statusForKind(richErr.TextCode))
		}
		return richErr
	}
	return internalError(err, "an unexpected server error occurred")
}

func statusForKind(kind string) int {
	switch kind {
	case TextCodeValidation, TextCodeInvalidOrExpiredToken:
		return http.StatusBadRequest
	case TextCodeConflict:
		return http.StatusConflict
	case TextCodeUnauthorized:
		return http.StatusUnauthorized
	case TextCodeForbidden:
		return http.StatusForbidden
	case TextCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
