// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/beacon/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists alerts and incidents in PostgreSQL. Incident upserts are
// single statements, so status, timestamps, and alert_ids commit together.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned
// by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// PutAlert inserts an alert. Alerts are immutable; a conflicting id is a
// no-op rather than an overwrite.
func (s *Store) PutAlert(ctx context.Context, a *alert.Alert) error {
	ctx, span := s.startSpan(ctx, "pgstore.PutAlert", "INSERT")
	defer span.End()

	labelsJSON, err := json.Marshal(a.Labels)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal labels: %w", err))
	}

	var incidentID *string
	if a.IncidentID != "" {
		incidentID = &a.IncidentID
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO alerts (id, service, severity, message, labels, incident_id, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Service, string(a.Severity), a.Message, labelsJSON, incidentID, a.ReceivedAt,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert alert: %w", err))
	}
	return nil
}

const alertColumns = `id, service, severity, message, labels, incident_id, received_at`

// GetAlert retrieves an alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := s.startSpan(ctx, "pgstore.GetAlert", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, f incident.AlertFilter) ([]*alert.Alert, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListAlerts", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE ($1 = '' OR service = $1)
		  AND ($2 = '' OR severity = $2)
		ORDER BY received_at DESC
		LIMIT $3`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, f.Service, string(f.Severity), limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query alerts: %w", err))
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate alerts: %w", err))
	}
	return out, nil
}

const incidentColumns = `id, title, service, severity, status, correlation_key, assigned_to,
	created_at, acknowledged_at, resolved_at, last_alert_at, alert_ids, notes`

// PutIncident inserts or updates an incident in one atomic statement.
func (s *Store) PutIncident(ctx context.Context, inc *incident.Incident) error {
	ctx, span := s.startSpan(ctx, "pgstore.PutIncident", "UPSERT")
	defer span.End()

	alertIDsJSON, err := json.Marshal(inc.AlertIDs)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal alert_ids: %w", err))
	}
	notesJSON, err := json.Marshal(inc.Notes)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal notes: %w", err))
	}

	query := `INSERT INTO incidents (
		id, title, service, severity, status, correlation_key, assigned_to,
		created_at, acknowledged_at, resolved_at, last_alert_at, alert_ids, notes
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO UPDATE SET
		title           = EXCLUDED.title,
		severity        = EXCLUDED.severity,
		status          = EXCLUDED.status,
		assigned_to     = EXCLUDED.assigned_to,
		acknowledged_at = EXCLUDED.acknowledged_at,
		resolved_at     = EXCLUDED.resolved_at,
		last_alert_at   = EXCLUDED.last_alert_at,
		alert_ids       = EXCLUDED.alert_ids,
		notes           = EXCLUDED.notes`

	_, err = s.pool.Exec(ctx, query,
		inc.ID, inc.Title, inc.Service, string(inc.Severity), string(inc.Status),
		inc.CorrelationKey, inc.AssignedTo, inc.CreatedAt, inc.AcknowledgedAt,
		inc.ResolvedAt, inc.LastAlertAt, alertIDsJSON, notesJSON,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("upsert incident: %w", err))
	}
	return nil
}

// GetIncident retrieves an incident by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := s.startSpan(ctx, "pgstore.GetIncident", "SELECT")
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncidentRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, false, spanErr(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	return inc, true, nil
}

// FindActiveByKey returns non-resolved incidents with the given
// correlation key whose last alert arrived at or after since.
func (s *Store) FindActiveByKey(ctx context.Context, key string, since time.Time) ([]*incident.Incident, error) {
	ctx, span := s.startSpan(ctx, "pgstore.FindActiveByKey", "SELECT")
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE correlation_key = $1
		  AND status != 'resolved'
		  AND last_alert_at >= $2
		ORDER BY last_alert_at DESC`

	rows, err := s.pool.Query(ctx, query, key, since)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query incidents by key: %w", err))
	}
	defer rows.Close()

	return collectIncidents(rows, span)
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(ctx context.Context, f incident.Filter) ([]*incident.Incident, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListIncidents", "SELECT")
	defer span.End()

	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE ($1 = '' OR service = $1)
		  AND ($2 = '' OR severity = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, f.Service, string(f.Severity), string(f.Status), limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("query incidents: %w", err))
	}
	defer rows.Close()

	return collectIncidents(rows, span)
}

func collectIncidents(rows pgx.Rows, span trace.Span) ([]*incident.Incident, error) {
	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("iterate incidents: %w", err))
	}
	return out, nil
}

// scanAlertRow scans one alert row. Returns (nil, nil) when no row is found.
func scanAlertRow(row pgx.Row) (*alert.Alert, error) {
	var (
		a          alert.Alert
		severity   string
		labelsJSON []byte
		incidentID *string
	)
	err := row.Scan(&a.ID, &a.Service, &severity, &a.Message, &labelsJSON, &incidentID, &a.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Severity = alert.Severity(severity)
	if incidentID != nil {
		a.IncidentID = *incidentID
	}
	if err := json.Unmarshal(labelsJSON, &a.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	return &a, nil
}

// scanIncidentRow scans one incident row. Returns (nil, nil) when no row is
// found.
func scanIncidentRow(row pgx.Row) (*incident.Incident, error) {
	var (
		inc          incident.Incident
		severity     string
		status       string
		alertIDsJSON []byte
		notesJSON    []byte
	)
	err := row.Scan(
		&inc.ID, &inc.Title, &inc.Service, &severity, &status, &inc.CorrelationKey,
		&inc.AssignedTo, &inc.CreatedAt, &inc.AcknowledgedAt, &inc.ResolvedAt,
		&inc.LastAlertAt, &alertIDsJSON, &notesJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.Severity = alert.Severity(severity)
	inc.Status = incident.Status(status)
	if err := json.Unmarshal(alertIDsJSON, &inc.AlertIDs); err != nil {
		return nil, fmt.Errorf("unmarshal alert_ids: %w", err)
	}
	if err := json.Unmarshal(notesJSON, &inc.Notes); err != nil {
		return nil, fmt.Errorf("unmarshal notes: %w", err)
	}
	return &inc, nil
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
