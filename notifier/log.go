package notifier

import (
	"context"
	"sync"

	auth "github.com/greensol/go-auth"
)

// Log writes outbound messages to the logger instead of delivering them.
// It keeps the last messages so local setups can pick up verification links.
type Log struct {
	logger auth.Logger

	mu   sync.Mutex
	sent []auth.Message
	max  int
}

var _ auth.Notifier = (*Log)(nil)

// NewLog returns a logging notifier that remembers up to keep messages
func NewLog(logger auth.Logger, keep int) *Log {
	if logger == nil {
		logger = auth.NewZapLogger(nil)
	}
	if keep <= 0 {
		keep = 100
	}
	return &Log{logger: logger, max: keep}
}

func (l *Log) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.logger.Info("Outbound mail", "to", recipient, "subject", subject, "body", body)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, auth.Message{Recipient: recipient, Subject: subject, Body: body})
	if len(l.sent) > l.max {
		l.sent = l.sent[len(l.sent)-l.max:]
	}
	return nil
}

// Sent returns a copy of the remembered messages, oldest first
func (l *Log) Sent() []auth.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]auth.Message, len(l.sent))
	copy(out, l.sent)
	return out
}
