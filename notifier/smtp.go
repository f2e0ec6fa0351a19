package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/goliatone/go-errors"

	auth "github.com/greensol/go-auth"
)

// SMTPConfig holds the mail server settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool
}

// SMTP sends HTML mail through an SMTP relay
type SMTP struct {
	config SMTPConfig
	logger auth.Logger
	now    func() time.Time
	dialer *net.Dialer
}

var _ auth.Notifier = (*SMTP)(nil)

// NewSMTP returns an SMTP notifier
func NewSMTP(config SMTPConfig, logger auth.Logger) (*SMTP, error) {
	if config.Host == "" || config.From == "" {
		return nil, errors.New("smtp notifier requires host and from", errors.CategoryValidation).
			WithTextCode(auth.TextCodeValidation)
	}
	if config.Port == 0 {
		config.Port = 587
		if config.ImplicitTLS {
			config.Port = 465
		}
	}
	if logger == nil {
		logger = auth.NewZapLogger(nil)
	}
	return &SMTP{
		config: config,
		logger: logger,
		now:    time.Now,
		dialer: &net.Dialer{Timeout: 10 * time.Second},
	}, nil
}

func (s *SMTP) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	tlsConfig := &tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if s.config.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: s.dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = s.dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if !s.config.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if s.config.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := w.Write(s.message(recipient, subject, body)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("failed to quit SMTP session: %w", err)
	}

	s.logger.Info("Email sent", "to", recipient, "subject", subject)
	return nil
}

// message renders headers in a fixed order followed by the HTML body
func (s *SMTP) message(recipient, subject, body string) []byte {
	var buf bytes.Buffer
	headers := [][2]string{
		{"From", s.config.From},
		{"To", recipient},
		{"Subject", subject},
		{"Date", s.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}
