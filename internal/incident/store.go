package incident

import (
	"context"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
)

// Filter narrows incident listings. Zero values match everything.
type Filter struct {
	Service  string
	Severity alert.Severity
	Status   Status
	Limit    int
}

// AlertFilter narrows alert listings. Zero values match everything.
type AlertFilter struct {
	Service  string
	Severity alert.Severity
	Limit    int
}

// Store is the persistence interface for alerts and incidents. A write to
// an incident must be atomic with respect to its status, timestamps, and
// alert id list together.
type Store interface {
	PutAlert(ctx context.Context, a *alert.Alert) error
	GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]*alert.Alert, error)

	PutIncident(ctx context.Context, inc *Incident) error
	GetIncident(ctx context.Context, id string) (*Incident, bool, error)

	// FindActiveByKey returns non-resolved incidents with the given
	// correlation key whose last alert arrived at or after since.
	FindActiveByKey(ctx context.Context, key string, since time.Time) ([]*Incident, error)

	ListIncidents(ctx context.Context, f Filter) ([]*Incident, error)
}
