package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/beacon/internal/alert"
)

type recordingNotifier struct {
	got []Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func sample(channel string) Notification {
	return Notification{
		Channel:    channel,
		Target:     "primary-oncall",
		IncidentID: "01ABC",
		Title:      "[checkout] 5xx spike",
		Service:    "checkout",
		Severity:   alert.SeverityCritical,
		Tier:       1,
	}
}

func TestRouter_RoutesByChannel(t *testing.T) {
	t.Parallel()

	slack := &recordingNotifier{}
	pager := &recordingNotifier{}
	r := NewRouter(nil)
	r.Register("slack", slack)
	r.Register("pagerduty", pager)

	if err := r.Notify(context.Background(), sample("slack")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := r.Notify(context.Background(), sample("pagerduty")); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(slack.got) != 1 || len(pager.got) != 1 {
		t.Errorf("slack=%d pagerduty=%d deliveries, want 1/1", len(slack.got), len(pager.got))
	}
	if slack.got[0].Target != "primary-oncall" {
		t.Errorf("delivered %+v", slack.got[0])
	}
}

func TestRouter_FallbackForUnknownChannel(t *testing.T) {
	t.Parallel()

	fallback := &recordingNotifier{}
	r := NewRouter(fallback)
	r.Register("slack", &recordingNotifier{})

	if err := r.Notify(context.Background(), sample("sms")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(fallback.got) != 1 {
		t.Fatalf("fallback deliveries = %d, want 1", len(fallback.got))
	}
	if fallback.got[0].Channel != "sms" {
		t.Errorf("fallback saw channel %q", fallback.got[0].Channel)
	}
}

func TestRouter_UnknownChannelWithoutFallback(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil)
	err := r.Notify(context.Background(), sample("sms"))
	if err == nil {
		t.Fatal("expected error for unregistered channel")
	}
}

func TestRouter_PropagatesDeliveryError(t *testing.T) {
	t.Parallel()

	want := errors.New("webhook 500")
	r := NewRouter(nil)
	r.Register("slack", &recordingNotifier{err: want})

	if err := r.Notify(context.Background(), sample("slack")); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestLogNotifier_AlwaysSucceeds(t *testing.T) {
	t.Parallel()

	n := NewLogNotifier(nil)
	if err := n.Notify(context.Background(), sample("slack")); err != nil {
		t.Errorf("Notify: %v", err)
	}
}
