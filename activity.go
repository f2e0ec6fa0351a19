package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventUserRegistered      ActivityEventType = "user.registered"
	ActivityEventUserVerified        ActivityEventType = "user.verified"
	ActivityEventUserUpdated         ActivityEventType = "user.updated"
	ActivityEventUserRoleChanged     ActivityEventType = "user.role.changed"
	ActivityEventUsersDeleted        ActivityEventType = "user.deleted"
	ActivityEventLoginSuccess        ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure        ActivityEventType = "auth.login.failure"
	ActivityEventNotificationFailure ActivityEventType = "notification.failure"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
	Role Role
}

var (
	actorSystem    = ActorRef{Type: "system"}
	actorAnonymous = ActorRef{Type: "anonymous"}
)

// ActorFromUser returns the actor reference for an authenticated user
func ActorFromUser(user *User) ActorRef {
	if user == nil {
		return actorAnonymous
	}
	return ActorRef{
		ID:   user.ID.String(),
		Type: "user",
		Role: user.Role,
	}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	FromState  VerificationState
	ToState    VerificationState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans events out to every sink, returning the first error
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// activityRecorder stamps and records events, logging sink failures
type activityRecorder struct {
	sink   ActivitySink
	clock  Clock
	logger Logger
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = actorSystem
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = normalizeClock(r.clock).Now()
	}

	if err := normalizeActivitySink(r.sink).Record(ctx, event); err != nil {
		normalizeLogger(r.logger).Warn("activity sink record error", "event", event.EventType, "error", err)
	}
}
