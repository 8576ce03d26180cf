// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/incident"
)

// Store holds alerts and incidents in memory. Suitable for dev/testing.
// All reads and writes copy, so callers never share mutable state with
// the store.
type Store struct {
	mu        sync.RWMutex
	alerts    map[string]*alert.Alert
	incidents map[string]*incident.Incident
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts:    make(map[string]*alert.Alert),
		incidents: make(map[string]*incident.Incident),
	}
}

// PutAlert stores a copy of the alert.
func (s *Store) PutAlert(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

// GetAlert retrieves an alert by id. Returns a copy.
func (s *Store) GetAlert(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(_ context.Context, f incident.AlertFilter) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alert.Alert
	for _, a := range s.alerts {
		if f.Service != "" && a.Service != f.Service {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// PutIncident stores a copy of the incident.
func (s *Store) PutIncident(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc.Clone()
	return nil
}

// GetIncident retrieves an incident by id. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

// FindActiveByKey returns non-resolved incidents with the given
// correlation key whose last alert arrived at or after since.
func (s *Store) FindActiveByKey(_ context.Context, key string, since time.Time) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Incident
	for _, inc := range s.incidents {
		if inc.CorrelationKey != key || inc.Status == incident.StatusResolved {
			continue
		}
		if inc.LastAlertAt.Before(since) {
			continue
		}
		out = append(out, inc.Clone())
	}
	return out, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(_ context.Context, f incident.Filter) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Incident
	for _, inc := range s.incidents {
		if f.Service != "" && inc.Service != f.Service {
			continue
		}
		if f.Severity != "" && inc.Severity != f.Severity {
			continue
		}
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
