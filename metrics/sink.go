// Package metrics exports account activity as Prometheus metrics and
// serves them next to health checks.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	auth "github.com/greensol/go-auth"
)

// Sink counts activity events. It implements auth.ActivitySink.
type Sink struct {
	events        *prometheus.CounterVec
	logins        *prometheus.CounterVec
	verifications *prometheus.CounterVec
	notifications prometheus.Counter
}

var _ auth.ActivitySink = (*Sink)(nil)

// NewSink creates and registers the activity metrics on reg
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goauth_activity_events_total",
				Help: "Total number of account activity events by type and actor type",
			},
			[]string{"type", "actor"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goauth_login_attempts_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goauth_verifications_total",
				Help: "Total number of completed email verifications by mode",
			},
			[]string{"mode"},
		),
		notifications: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "goauth_notification_failures_total",
				Help: "Total number of outbound notifications that failed",
			},
		),
	}

	reg.MustRegister(s.events, s.logins, s.verifications, s.notifications)

	return s
}

// Record implements auth.ActivitySink
func (s *Sink) Record(_ context.Context, event auth.ActivityEvent) error {
	actor := event.Actor.Type
	if actor == "" {
		actor = "unknown"
	}
	s.events.WithLabelValues(string(event.EventType), actor).Inc()

	switch event.EventType {
	case auth.ActivityEventLoginSuccess:
		s.logins.WithLabelValues("success").Inc()
	case auth.ActivityEventLoginFailure:
		s.logins.WithLabelValues("failure").Inc()
	case auth.ActivityEventUserVerified:
		mode, _ := event.Metadata["mode"].(string)
		if mode == "" {
			mode = "unknown"
		}
		s.verifications.WithLabelValues(mode).Inc()
	case auth.ActivityEventNotificationFailure:
		s.notifications.Inc()
	}

	return nil
}
