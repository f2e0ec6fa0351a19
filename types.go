package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logger is the structured logger used across the package.
// Arguments after the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Session holds attributes that are part of an auth session
type Session interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	GetRole() Role
	GetIssuedAt() time.Time
	GetExpiresAt() time.Time
}

// Identity holds the attributes of an identity
type Identity interface {
	ID() string
	Username() string
	Email() string
	Role() Role
}

// Authenticator holds methods to deal with authentication
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	SessionFromToken(ctx context.Context, token string) (Session, error)
	IdentityFromSession(ctx context.Context, session Session) (*User, error)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetTokenTTL() time.Duration
	GetVerificationTTL() time.Duration
	GetBaseURL() string
	GetVerifyRedirectURL() string
	GetTokenHeader() string
}

// PasswordHasher hashes and compares passwords
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Notifier delivers outbound messages. Implementations may block; callers
// that must not wait go through a Dispatcher.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Printf("[ERR] AUTH %s %s\n", msg, formatArgs(args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Printf("[WRN] AUTH %s %s\n", msg, formatArgs(args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Printf("[INF] AUTH %s %s\n", msg, formatArgs(args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Printf("[DBG] AUTH %s %s\n", msg, formatArgs(args))
}

func formatArgs(args []any) string {
	out := ""
	for i := 0; i < len(args); i += 2 {
		if i > 0 {
			out += " "
		}
		if i+1 < len(args) {
			out += fmt.Sprintf("%v=%v", args[i], args[i+1])
		} else {
			out += fmt.Sprintf("%v", args[i])
		}
	}
	return out
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
