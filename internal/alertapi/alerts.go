package alertapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/incident"
)

type ingestRequest struct {
	Service   string            `json:"service"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

type ingestResponse struct {
	AlertID    string    `json:"alert_id"`
	IncidentID string    `json:"incident_id"`
	Outcome    string    `json:"outcome"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		return
	}
	if req.Service == "" || req.Severity == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "missing required fields: service, severity, message",
		})
		return
	}

	sub := incident.SubmitRequest{
		Service:  req.Service,
		Severity: req.Severity,
		Message:  req.Message,
		Labels:   req.Labels,
	}
	if req.Timestamp != nil {
		sub.Timestamp = *req.Timestamp
	}

	res, err := a.svc.Submit(r.Context(), sub)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("beacon.alert.id", res.Alert.ID),
		attribute.String("beacon.incident.id", res.IncidentID),
		attribute.String("beacon.correlation.outcome", string(res.Outcome)),
	)

	a.logger.Info(r.Context(), "alert ingested",
		"alert_id", res.Alert.ID,
		"incident_id", res.IncidentID,
		"outcome", string(res.Outcome),
		"service", req.Service,
		"severity", string(res.Alert.Severity),
	)

	writeJSON(w, http.StatusCreated, ingestResponse{
		AlertID:    res.Alert.ID,
		IncidentID: res.IncidentID,
		Outcome:    string(res.Outcome),
		Status:     "received",
		Timestamp:  res.Alert.ReceivedAt,
	})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	al, ok, err := a.svc.Alert(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	f := incident.AlertFilter{
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
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		f.Limit = n
	}

	alerts, err := a.svc.ListAlerts(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"total":  len(alerts),
	})
}
