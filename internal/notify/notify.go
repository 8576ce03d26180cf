// Package notify defines the notification dispatcher contract consumed by
// the escalation path, plus a channel router and a log-only fallback.
// Delivery retry policy belongs to individual notifier implementations.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/beacon/internal/alert"
)

// Notification is one escalation message for an on-call target.
type Notification struct {
	Channel    string
	Target     string
	IncidentID string
	Title      string
	Service    string
	Severity   alert.Severity
	Tier       int
	CreatedAt  time.Time
}

// Notifier sends a notification to a resolved on-call target. A returned
// error means delivery failed; the caller counts and logs it but does not
// retry and never blocks lifecycle progress on it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Router dispatches notifications to channel-specific notifiers.
type Router struct {
	channels map[string]Notifier
	fallback Notifier
}

// NewRouter creates an empty Router with an optional fallback notifier used
// for channels with no registered implementation. A nil fallback makes
// unknown channels an error.
func NewRouter(fallback Notifier) *Router {
	return &Router{
		channels: make(map[string]Notifier),
		fallback: fallback,
	}
}

// Register installs a notifier for a channel name, replacing any previous one.
func (r *Router) Register(channel string, n Notifier) {
	r.channels[channel] = n
}

// Notify routes the notification by its Channel field.
func (r *Router) Notify(ctx context.Context, n Notification) error {
	if impl, ok := r.channels[n.Channel]; ok {
		return impl.Notify(ctx, n)
	}
	if r.fallback != nil {
		return r.fallback.Notify(ctx, n)
	}
	return fmt.Errorf("notify: no notifier registered for channel %q", n.Channel)
}

// LogNotifier writes notifications to the structured log. Used in dev and
// as the router fallback so escalations stay visible without a configured
// delivery channel.
type LogNotifier struct {
	logger log.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification and reports success.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info(ctx, "escalation notification",
		"channel", n.Channel,
		"target", n.Target,
		"incident_id", n.IncidentID,
		"service", n.Service,
		"severity", string(n.Severity),
		"tier", n.Tier,
		"title", n.Title,
	)
	return nil
}
