package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
)

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusOpen means created, nobody has responded yet
	StatusOpen Status = "open"

	// StatusAcknowledged means a responder has taken ownership
	StatusAcknowledged Status = "acknowledged"

	// StatusInProgress means remediation work has started
	StatusInProgress Status = "in_progress"

	// StatusResolved means the incident is closed; terminal
	StatusResolved Status = "resolved"
)

// validTransitions is the incident status machine. Acknowledgment and
// "in progress" are independent signals, so both orderings are allowed.
// Nothing leaves resolved: a late alert opens a new incident.
var validTransitions = map[Status]map[Status]bool{
	StatusOpen:         {StatusAcknowledged: true, StatusInProgress: true, StatusResolved: true},
	StatusAcknowledged: {StatusInProgress: true, StatusResolved: true},
	StatusInProgress:   {StatusAcknowledged: true, StatusResolved: true},
	StatusResolved:     {},
}

// CanTransition reports whether the status machine permits s -> to.
func (s Status) CanTransition(to Status) bool {
	return validTransitions[s][to]
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("unknown status %q (want open, acknowledged, in_progress, or resolved)", s)
	}
	return st, nil
}

// Incident is the unit of operator response, aggregating one or more
// correlated alerts. AlertIDs is append-only; Severity is the maximum
// severity among correlated alerts and never decreases while open.
type Incident struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Service        string         `json:"service"`
	Severity       alert.Severity `json:"severity"`
	Status         Status         `json:"status"`
	CorrelationKey string         `json:"correlation_key"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	LastAlertAt    time.Time      `json:"last_alert_at"`
	AlertIDs       []string       `json:"alert_ids"`
	Notes          []string       `json:"notes"`
}

// Clone returns a deep copy. Stores hand out clones so callers never
// share mutable slices with persisted state.
func (i *Incident) Clone() *Incident {
	cp := *i
	if i.AcknowledgedAt != nil {
		t := *i.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		cp.ResolvedAt = &t
	}
	cp.AlertIDs = append([]string(nil), i.AlertIDs...)
	cp.Notes = append([]string(nil), i.Notes...)
	return &cp
}
