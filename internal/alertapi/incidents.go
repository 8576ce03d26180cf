package alertapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/incident"
)

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.incident.id", id))

	inc, ok, err := a.svc.Incident(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "incident not found"})
		return
	}

	span.SetAttributes(attribute.String("beacon.incident.status", string(inc.Status)))
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	f := incident.Filter{
		Service: r.URL.Query().Get("service"),
	}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		parsed, err := alert.ParseSeverity(sev)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		f.Severity = parsed
	}
	if st := r.URL.Query().Get("status"); st != "" {
		parsed, err := incident.ParseStatus(st)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		f.Status = parsed
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		f.Limit = n
	}

	incs, err := a.svc.ListIncidents(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if incs == nil {
		incs = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incs,
		"total":     len(incs),
	})
}

type acknowledgeRequest struct {
	AssignedTo string `json:"assigned_to,omitempty"`
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req acknowledgeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
			return
		}
	}

	inc, err := a.svc.Acknowledge(r.Context(), id, req.AssignedTo)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleStartWork(w http.ResponseWriter, r *http.Request) {
	inc, err := a.svc.StartWork(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	inc, err := a.svc.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (a *API) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		return
	}

	inc, err := a.svc.AddNote(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
