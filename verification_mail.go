package auth

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/template/django/v3"
)

const (
	verificationTemplate       = "mail/verification_email"
	defaultVerificationSubject = "Confirm your email address"
	defaultAppName             = "Greensol"
	// VerifyPath is the route that consumes verification tickets
	VerifyPath = "/api/auth/verify"
)

// VerificationMailer renders the verification message for a new ticket
type VerificationMailer struct {
	engine  *django.Engine
	baseURL string
	subject string
	appName string
}

// VerificationMailerOption configures a VerificationMailer
type VerificationMailerOption func(*VerificationMailer)

// WithMailSubject overrides the subject line
func WithMailSubject(subject string) VerificationMailerOption {
	return func(m *VerificationMailer) {
		if subject != "" {
			m.subject = subject
		}
	}
}

// WithMailAppName sets the product name used in the body
func WithMailAppName(name string) VerificationMailerOption {
	return func(m *VerificationMailer) {
		if name != "" {
			m.appName = name
		}
	}
}

// NewVerificationMailer loads the embedded templates. baseURL is the public
// origin the verification link points at.
func NewVerificationMailer(baseURL string, opts ...VerificationMailerOption) (*VerificationMailer, error) {
	sub, err := fs.Sub(templatesFS, "data/templates")
	if err != nil {
		return nil, fmt.Errorf("mail templates: %w", err)
	}

	engine := django.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load mail templates: %w", err)
	}

	m := &VerificationMailer{
		engine:  engine,
		baseURL: strings.TrimRight(baseURL, "/"),
		subject: defaultVerificationSubject,
		appName: defaultAppName,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// VerificationLink builds the link embedding the raw ticket
func (m *VerificationMailer) VerificationLink(rawTicket string) string {
	q := url.Values{}
	q.Set("token", rawTicket)
	return m.baseURL + VerifyPath + "?" + q.Encode()
}

// Compose renders the subject and body for user. createdBy is the
// privileged actor that created the account, empty for self registration.
func (m *VerificationMailer) Compose(user *User, ticket *Ticket, ttl time.Duration, createdBy ActorRef) (string, string, error) {
	if user == nil || ticket == nil {
		return "", "", fmt.Errorf("verification mail requires a user and a ticket")
	}

	bindings := TemplateHelpersWith(map[string]any{
		"app_name":        m.appName,
		"username":        user.Username,
		"role":            user.Role.String(),
		"link":            m.VerificationLink(ticket.Raw),
		"ttl":             humanizeTTL(ttl),
		"created_by_role": createdBy.Role.String(),
	})

	var buf bytes.Buffer
	if err := m.engine.Render(&buf, verificationTemplate, bindings); err != nil {
		return "", "", fmt.Errorf("render verification mail: %w", err)
	}

	return m.subject, buf.String(), nil
}

func humanizeTTL(ttl time.Duration) string {
	switch {
	case ttl <= 0:
		return "a short while"
	case ttl%time.Hour == 0:
		hours := int(ttl / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	case ttl%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(ttl/time.Minute))
	default:
		return ttl.String()
	}
}
