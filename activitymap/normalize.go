package activitymap

import (
	"context"
	"maps"
	"sort"
	"strings"
	"time"

	auth "github.com/greensol/go-auth"
)

const (
	// MetadataKeyActorType stores auth.ActorRef.Type
	MetadataKeyActorType = "actor_type"
	// MetadataKeyActorRole stores the role the actor held when acting
	MetadataKeyActorRole = "actor_role"
	// MetadataKeyFromState stores the verification state before a transition
	MetadataKeyFromState = "from_state"
	// MetadataKeyToState stores the verification state after a transition
	MetadataKeyToState = "to_state"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "user"
	defaultActorID    = "system"
)

// Record is a flat activity shape for logs and downstream consumers
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Fields returns the record as logger key/value pairs. Metadata keys are
// emitted in sorted order.
func (r Record) Fields() []any {
	out := []any{
		"verb", r.Verb,
		"actor_id", r.ActorID,
		"object_type", r.ObjectType,
		"object_id", r.ObjectID,
		"channel", r.Channel,
		"occurred_at", r.OccurredAt.Format(time.RFC3339),
	}

	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k, r.Metadata[k])
	}
	return out
}

// Option customizes normalization
type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
}

// WithChannel sets the channel of every record
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type of every record
func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback is used when neither the actor nor the subject has an id
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// Normalize flattens an auth.ActivityEvent. The subject account is the
// object; an anonymous or system actor falls back to the subject id.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return Record{
		ActorID:    firstNonEmpty(event.Actor.ID, event.UserID, o.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

func metadata(event auth.ActivityEvent) map[string]any {
	out := maps.Clone(event.Metadata)
	if out == nil {
		out = map[string]any{}
	}

	if t := strings.TrimSpace(event.Actor.Type); t != "" {
		if _, exists := out[MetadataKeyActorType]; !exists {
			out[MetadataKeyActorType] = t
		}
	}
	if event.Actor.Role != "" {
		out[MetadataKeyActorRole] = event.Actor.Role.String()
	}
	if event.FromState != "" {
		out[MetadataKeyFromState] = string(event.FromState)
	}
	if event.ToState != "" {
		out[MetadataKeyToState] = string(event.ToState)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// LogSink writes every activity event to logger at info level
type LogSink struct {
	logger auth.Logger
	opts   []Option
}

var _ auth.ActivitySink = (*LogSink)(nil)

// NewLogSink returns an ActivitySink backed by logger
func NewLogSink(logger auth.Logger, opts ...Option) *LogSink {
	return &LogSink{logger: logger, opts: opts}
}

// Record implements auth.ActivitySink
func (s *LogSink) Record(_ context.Context, event auth.ActivityEvent) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Info("activity", Normalize(event, s.opts...).Fields()...)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
