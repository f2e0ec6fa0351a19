package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultDispatchTimeout bounds a single notifier send
const DefaultDispatchTimeout = 30 * time.Second

// Message is one outbound notification
type Message struct {
	UserID    string
	Recipient string
	Subject   string
	Body      string
}

// Dispatcher sends messages without blocking the caller. Failures are
// logged and recorded, never returned.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	recorder activityRecorder

	mu      sync.Mutex
	pending int
	idle    chan struct{}
	closed  bool
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatchTimeout bounds each send
func WithDispatchTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDispatchLogger sets the logger used for delivery failures
func WithDispatchLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder.logger = normalizeLogger(logger)
	}
}

// WithDispatchActivitySink records delivery failures as activity events
func WithDispatchActivitySink(sink ActivitySink) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder.sink = normalizeActivitySink(sink)
	}
}

// NewDispatcher wraps notifier
func NewDispatcher(notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		timeout:  DefaultDispatchTimeout,
		recorder: activityRecorder{
			sink:   noopActivitySink{},
			clock:  SystemClock,
			logger: defLogger{},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch queues msg and returns immediately. The send outlives ctx's
// cancellation but keeps its values.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if d == nil || d.notifier == nil {
		return
	}

	if !d.acquire() {
		d.recorder.logger.Warn("dispatcher closed, dropping notification",
			"user_id", msg.UserID,
			"subject", msg.Subject,
		)
		return
	}

	sendCtx := context.WithoutCancel(ctx)

	go func() {
		defer d.release()

		ctx, cancel := context.WithTimeout(sendCtx, d.timeout)
		defer cancel()

		err := d.notifier.Send(ctx, msg.Recipient, msg.Subject, msg.Body)
		if err == nil {
			d.recorder.logger.Debug("notification sent", "user_id", msg.UserID, "subject", msg.Subject)
			return
		}

		d.recorder.logger.Error("notification delivery failed",
			"user_id", msg.UserID,
			"subject", msg.Subject,
			"error", err,
		)
		d.recorder.record(ctx, ActivityEvent{
			EventType: ActivityEventNotificationFailure,
			UserID:    msg.UserID,
			Metadata: map[string]any{
				"subject": msg.Subject,
				"error":   err.Error(),
			},
		})
	}()
}

func (d *Dispatcher) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

// Wait blocks until every queued send finished or ctx ends. Dispatch may
// still be called while waiting.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	if d.pending == 0 {
		d.mu.Unlock()
		return nil
	}
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages and drains the queued sends
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	return d.Wait(ctx)
}
