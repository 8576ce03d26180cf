package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/notify"
)

func escalation(sev alert.Severity) notify.Notification {
	return notify.Notification{
		Channel:    "slack",
		Target:     "primary-oncall",
		IncidentID: "01JN123",
		Title:      "[checkout] 5xx rate above threshold",
		Service:    "checkout",
		Severity:   sev,
		Tier:       2,
		CreatedAt:  time.Now().Add(-5 * time.Minute),
	}
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Notify(context.Background(), escalation(alert.SeverityCritical)); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, context = 5 blocks
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "[checkout] 5xx rate above threshold") {
		t.Errorf("header text = %q, want to contain the incident title", headerText)
	}
	if !strings.Contains(headerText, "tier 2") {
		t.Errorf("header text = %q, want to contain the tier", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should contain red circle for critical severity")
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	joined := ""
	for _, f := range fields {
		joined += f.(map[string]any)["text"].(string) + "\n"
	}
	if !strings.Contains(joined, "primary-oncall") {
		t.Errorf("fields missing target: %s", joined)
	}
	if !strings.Contains(joined, "checkout") {
		t.Errorf("fields missing service: %s", joined)
	}
	if !strings.Contains(joined, "Unacknowledged for") {
		t.Errorf("fields missing unacknowledged age: %s", joined)
	}

	contextText := blocks[4].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(contextText, "01JN123") {
		t.Errorf("context = %q, want to contain incident id", contextText)
	}
}

func TestNotify_SeverityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity alert.Severity
		emoji    string
	}{
		{alert.SeverityCritical, "\U0001f534"},
		{alert.SeverityHigh, "\U0001f7e0"},
		{alert.SeverityMedium, "\U0001f7e1"},
		{alert.SeverityLow, "\U0001f7e2"},
	}
	for _, tt := range tests {
		if got := severityEmoji(tt.severity); got != tt.emoji {
			t.Errorf("severityEmoji(%s) = %q, want %q", tt.severity, got, tt.emoji)
		}
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.Notify(context.Background(), escalation(alert.SeverityHigh))
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_payload") {
		t.Errorf("err = %v, want status and body", err)
	}
}

func TestNotify_ContextCancellation(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n := New(srv.URL)
	if err := n.Notify(ctx, escalation(alert.SeverityHigh)); err == nil {
		t.Fatal("expected error when context deadline passes")
	}
}
