// Package alertapi exposes alert ingestion, incident queries, and
// lifecycle actions over HTTP. It is a thin transport layer: all
// correlation and lifecycle decisions live in the incident service.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/incident"
)

// IncidentService defines the business operations alertapi needs.
type IncidentService interface {
	Submit(ctx context.Context, req incident.SubmitRequest) (*incident.SubmitResult, error)
	Acknowledge(ctx context.Context, id, assignee string) (*incident.Incident, error)
	StartWork(ctx context.Context, id string) (*incident.Incident, error)
	Resolve(ctx context.Context, id string) (*incident.Incident, error)
	AddNote(ctx context.Context, id, note string) (*incident.Incident, error)
	Incident(ctx context.Context, id string) (*incident.Incident, bool, error)
	Alert(ctx context.Context, id string) (*alert.Alert, bool, error)
	ListIncidents(ctx context.Context, f incident.Filter) ([]*incident.Incident, error)
	ListAlerts(ctx context.Context, f incident.AlertFilter) ([]*alert.Alert, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    IncidentService
	auth   func(http.Handler) http.Handler
}

// New creates a new API handler. auth guards lifecycle actions; nil means
// no authentication.
func New(logger log.Logger, svc IncidentService, auth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		auth:   auth,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleIngestAlert)
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)

		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)

		r.Group(func(r chi.Router) {
			if a.auth != nil {
				r.Use(a.auth)
			}
			r.Post("/incidents/{id}/acknowledge", a.handleAcknowledge)
			r.Post("/incidents/{id}/start", a.handleStartWork)
			r.Post("/incidents/{id}/resolve", a.handleResolve)
			r.Post("/incidents/{id}/notes", a.handleAddNote)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	State     string `json:"state,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeError maps domain errors onto HTTP statuses: store outages are an
// explicit retryable 503 (never a fabricated success), invalid transitions
// a 409 naming the current state, unknown ids a 404.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *incident.InvalidTransitionError
	switch {
	case errors.Is(err, incident.ErrStoreUnavailable):
		a.logger.Error(r.Context(), err, "store unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:     "record store unavailable, retry later",
			Retryable: true,
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: invalid.Error(),
			State: string(invalid.From),
		})
	case errors.Is(err, incident.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
}
