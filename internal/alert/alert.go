// Package alert defines the inbound alert model and severity ordering used
// by the correlation engine.
package alert

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity is the closed set of alert severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for comparison; higher is more severe.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Severities lists all valid severities from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// ParseSeverity validates and normalizes a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q (want critical, high, medium, or low)", s)
	}
	return sev, nil
}

// Rank returns the ordering rank of a severity; unknown severities rank
// below low.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Above reports whether s is strictly more severe than other.
func (s Severity) Above(other Severity) bool {
	return s.Rank() > other.Rank()
}

// Alert is a single reported anomaly event from a monitored service.
// An Alert is immutable once stored; the IncidentID back-reference is
// assigned exactly once, when the correlation engine places the alert.
type Alert struct {
	ID         string            `json:"id"`
	Service    string            `json:"service"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	Labels     map[string]string `json:"labels,omitempty"`
	IncidentID string            `json:"incident_id,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// replicaLabels are label keys that vary per replica of the same workload.
// They are excluded from the correlation key so the same fault reported by
// different pods or hosts folds into one incident.
var replicaLabels = map[string]bool{
	"pod":      true,
	"instance": true,
	"hostname": true,
	"node":     true,
}

// CorrelationKey derives the grouping identity for an alert: the service
// plus its identity labels, sorted, in canonical k=v form.
func (a *Alert) CorrelationKey() string {
	keys := make([]string, 0, len(a.Labels))
	for k := range a.Labels {
		if replicaLabels[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(a.Service)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(a.Labels[k])
	}
	return b.String()
}
