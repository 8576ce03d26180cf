package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/escalate"
	"github.com/linnemanlabs/beacon/internal/notify"
)

const (
	// DefaultCorrelationWindow bounds how stale an incident's last alert
	// may be for new alerts to still attach to it.
	DefaultCorrelationWindow = 30 * time.Minute

	// notifyTimeout bounds a single dispatcher call during escalation.
	// Past it the notification counts as failed.
	notifyTimeout = 10 * time.Second

	// escalationRetryDelay is how long to wait before retrying a tier
	// whose firing hit a store outage.
	escalationRetryDelay = 30 * time.Second

	maxTitleLen = 100
)

// Outcome is the correlation decision for a submitted alert.
type Outcome string

const (
	OutcomeAttached    Outcome = "attached"
	OutcomeNewIncident Outcome = "new_incident"
)

// Escalator is the scheduler contract the service arms and cancels.
type Escalator interface {
	Arm(incidentID string, step int, delay time.Duration)
	Cancel(incidentID string)
}

// PolicyResolver hands out the current escalation policy for a service.
type PolicyResolver interface {
	PolicyFor(service string) escalate.Policy
}

// SubmitRequest is an inbound alert from the ingestion boundary.
type SubmitRequest struct {
	Service   string
	Severity  string
	Message   string
	Labels    map[string]string
	Timestamp time.Time // zero means now
}

// SubmitResult is the correlation outcome for an accepted alert.
type SubmitResult struct {
	Alert      *alert.Alert
	IncidentID string
	Outcome    Outcome
}

// Options configures a Service.
type Options struct {
	Store             Store
	Policies          PolicyResolver
	Notifier          notify.Notifier
	Metrics           *Metrics
	Logger            log.Logger
	CorrelationWindow time.Duration
}

// Service is the business boundary for correlation and lifecycle
// operations. All per-incident mutation is serialized through a keyed
// lock; the attach-or-create decision is additionally serialized per
// correlation key so concurrent alerts for the same problem cannot
// create duplicate incidents.
type Service struct {
	store    Store
	policies PolicyResolver
	notifier notify.Notifier
	metrics  *Metrics
	logger   log.Logger
	window   time.Duration
	esc      Escalator
	locks    *keyLocks
	now      func() time.Time
}

// NewService creates the incident service.
func NewService(opts Options) *Service {
	if opts.Store == nil {
		panic(xerrors.New("incident store is required"))
	}
	if opts.Policies == nil {
		panic(xerrors.New("policy resolver is required"))
	}
	if opts.Metrics == nil {
		panic(xerrors.New("incident metrics are required"))
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	window := opts.CorrelationWindow
	if window <= 0 {
		window = DefaultCorrelationWindow
	}
	return &Service{
		store:    opts.Store,
		policies: opts.Policies,
		notifier: notifier,
		metrics:  opts.Metrics,
		logger:   logger,
		window:   window,
		locks:    newKeyLocks(),
		now:      time.Now,
	}
}

// SetEscalator wires the escalation scheduler. Called once at startup;
// without it incidents are never escalated (useful in tests).
func (s *Service) SetEscalator(esc Escalator) {
	s.esc = esc
}

// Submit accepts an alert, correlates it onto an open incident or creates
// a new one, and returns the decision. On ErrStoreUnavailable the caller
// must retry or queue; the alert was not recorded.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	sev, err := alert.ParseSeverity(req.Severity)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Service) == "" {
		return nil, errors.New("service is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	a := &alert.Alert{
		ID:         ulid.Make().String(),
		Service:    req.Service,
		Severity:   sev,
		Message:    req.Message,
		Labels:     req.Labels,
		ReceivedAt: ts,
	}
	s.metrics.AlertsReceived.WithLabelValues(string(sev), a.Service).Inc()

	// Serialize the attach-or-create decision per correlation key so two
	// concurrent alerts cannot both decide "no match".
	key := a.CorrelationKey()
	unlock := s.locks.lock("key:" + key)
	defer unlock()

	candidates, err := s.store.FindActiveByKey(ctx, key, ts.Add(-s.window))
	if err != nil {
		return nil, storeUnavailable("find candidates", err)
	}

	if target := freshest(candidates); target != nil {
		return s.attach(ctx, a, target.ID)
	}
	return s.create(ctx, a, key)
}

// freshest picks the candidate with the most recent last alert, favoring
// the active incident over stale ones that happen to share a key.
func freshest(candidates []*Incident) *Incident {
	var best *Incident
	for _, c := range candidates {
		if best == nil || c.LastAlertAt.After(best.LastAlertAt) {
			best = c
		}
	}
	return best
}

func (s *Service) attach(ctx context.Context, a *alert.Alert, incidentID string) (*SubmitResult, error) {
	unlock := s.locks.lock("incident:" + incidentID)
	defer unlock()

	inc, ok, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, storeUnavailable("get incident", err)
	}
	if !ok || inc.Status == StatusResolved {
		// Candidate resolved between lookup and lock; a late alert never
		// reopens a resolved incident.
		return s.create(ctx, a, a.CorrelationKey())
	}

	a.IncidentID = inc.ID
	if err := s.store.PutAlert(ctx, a); err != nil {
		return nil, storeUnavailable("put alert", err)
	}

	inc.AlertIDs = append(inc.AlertIDs, a.ID)
	if a.ReceivedAt.After(inc.LastAlertAt) {
		inc.LastAlertAt = a.ReceivedAt
	}
	prevSev := inc.Severity
	if a.Severity.Above(inc.Severity) {
		inc.Notes = append(inc.Notes, fmt.Sprintf("severity raised %s -> %s by alert %s", inc.Severity, a.Severity, a.ID))
		inc.Severity = a.Severity
	}

	// Correlation never touches the escalation timer or the SLA clocks.
	if err := s.store.PutIncident(ctx, inc); err != nil {
		return nil, storeUnavailable("put incident", err)
	}
	// Gauge moves only once the new severity is durably recorded, so a
	// failed write cannot leave the gauge disagreeing with the store.
	if inc.Severity != prevSev {
		s.metrics.OpenIncidents.WithLabelValues(string(prevSev)).Dec()
		s.metrics.OpenIncidents.WithLabelValues(string(inc.Severity)).Inc()
	}
	s.metrics.Correlated.WithLabelValues(string(OutcomeAttached)).Inc()

	s.logger.Info(ctx, "alert attached",
		"alert_id", a.ID,
		"incident_id", inc.ID,
		"service", a.Service,
		"severity", string(inc.Severity),
		"alert_count", len(inc.AlertIDs),
	)
	return &SubmitResult{Alert: a, IncidentID: inc.ID, Outcome: OutcomeAttached}, nil
}

func (s *Service) create(ctx context.Context, a *alert.Alert, key string) (*SubmitResult, error) {
	id := ulid.Make().String()
	unlock := s.locks.lock("incident:" + id)
	defer unlock()

	now := s.now()
	inc := &Incident{
		ID:             id,
		Title:          deriveTitle(a.Service, a.Message),
		Service:        a.Service,
		Severity:       a.Severity,
		Status:         StatusOpen,
		CorrelationKey: key,
		CreatedAt:      now,
		LastAlertAt:    a.ReceivedAt,
		AlertIDs:       []string{a.ID},
		Notes:          []string{fmt.Sprintf("opened by alert %s", a.ID)},
	}

	a.IncidentID = id
	if err := s.store.PutAlert(ctx, a); err != nil {
		return nil, storeUnavailable("put alert", err)
	}
	if err := s.store.PutIncident(ctx, inc); err != nil {
		return nil, storeUnavailable("put incident", err)
	}

	s.metrics.Correlated.WithLabelValues(string(OutcomeNewIncident)).Inc()
	s.metrics.IncidentsTotal.WithLabelValues(string(StatusOpen), string(inc.Severity)).Inc()
	s.metrics.OpenIncidents.WithLabelValues(string(inc.Severity)).Inc()

	s.startEscalation(inc)

	s.logger.Info(ctx, "incident opened",
		"incident_id", inc.ID,
		"alert_id", a.ID,
		"service", inc.Service,
		"severity", string(inc.Severity),
	)
	return &SubmitResult{Alert: a, IncidentID: inc.ID, Outcome: OutcomeNewIncident}, nil
}

func (s *Service) startEscalation(inc *Incident) {
	if s.esc == nil {
		return
	}
	p := s.policies.PolicyFor(inc.Service)
	if len(p.Tiers) == 0 {
		return
	}
	s.esc.Arm(inc.ID, 0, p.Tiers[0].After)
}

func deriveTitle(service, message string) string {
	line := strings.TrimSpace(message)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if len(line) > maxTitleLen {
		cut := maxTitleLen - 3
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut] + "..."
	}
	return fmt.Sprintf("[%s] %s", service, line)
}

// Acknowledge transitions an incident to acknowledged, records MTTA on the
// first acknowledgment, and cancels the pending escalation timer.
func (s *Service) Acknowledge(ctx context.Context, id, assignee string) (*Incident, error) {
	inc, err := s.transition(ctx, id, StatusAcknowledged, func(inc *Incident, now time.Time) {
		if inc.AcknowledgedAt == nil {
			t := now
			inc.AcknowledgedAt = &t
			s.metrics.MTTA.WithLabelValues(string(inc.Severity)).Observe(now.Sub(inc.CreatedAt).Seconds())
		}
		if assignee != "" {
			inc.AssignedTo = assignee
			inc.Notes = append(inc.Notes, fmt.Sprintf("acknowledged by %s", assignee))
		} else {
			inc.Notes = append(inc.Notes, "acknowledged")
		}
	})
	if err != nil {
		return nil, err
	}
	if s.esc != nil {
		s.esc.Cancel(id)
	}
	s.logger.Info(ctx, "incident acknowledged", "incident_id", id, "assigned_to", inc.AssignedTo)
	return inc, nil
}

// StartWork marks remediation as started. It does not touch the
// escalation timer: paging stops only on acknowledgment or resolution.
func (s *Service) StartWork(ctx context.Context, id string) (*Incident, error) {
	inc, err := s.transition(ctx, id, StatusInProgress, func(inc *Incident, _ time.Time) {
		inc.Notes = append(inc.Notes, "work started")
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "incident work started", "incident_id", id)
	return inc, nil
}

// Resolve transitions an incident to its terminal state, records MTTR, and
// destroys the escalation timer. A second resolve fails with
// InvalidTransitionError; resolved_at is never overwritten.
func (s *Service) Resolve(ctx context.Context, id string) (*Incident, error) {
	inc, err := s.transition(ctx, id, StatusResolved, func(inc *Incident, now time.Time) {
		t := now
		inc.ResolvedAt = &t
		s.metrics.MTTR.WithLabelValues(string(inc.Severity)).Observe(now.Sub(inc.CreatedAt).Seconds())
		s.metrics.OpenIncidents.WithLabelValues(string(inc.Severity)).Dec()
		inc.Notes = append(inc.Notes, "resolved")
	})
	if err != nil {
		return nil, err
	}
	if s.esc != nil {
		s.esc.Cancel(id)
	}
	s.logger.Info(ctx, "incident resolved", "incident_id", id)
	return inc, nil
}

// AddNote appends a free-form note to the incident's audit trail.
func (s *Service) AddNote(ctx context.Context, id, note string) (*Incident, error) {
	if strings.TrimSpace(note) == "" {
		return nil, errors.New("note is required")
	}
	unlock := s.locks.lock("incident:" + id)
	defer unlock()

	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, storeUnavailable("get incident", err)
	}
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	inc.Notes = append(inc.Notes, note)
	if err := s.store.PutIncident(ctx, inc); err != nil {
		return nil, storeUnavailable("put incident", err)
	}
	return inc, nil
}

// transition applies one status machine step under the incident lock.
// apply runs after the transition is validated and the status updated, and
// before the incident is persisted.
func (s *Service) transition(ctx context.Context, id string, to Status, apply func(inc *Incident, now time.Time)) (*Incident, error) {
	unlock := s.locks.lock("incident:" + id)
	defer unlock()

	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, storeUnavailable("get incident", err)
	}
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if !inc.Status.CanTransition(to) {
		return nil, &InvalidTransitionError{ID: id, From: inc.Status, To: to}
	}

	inc.Status = to
	apply(inc, s.now())

	if err := s.store.PutIncident(ctx, inc); err != nil {
		return nil, storeUnavailable("put incident", err)
	}
	s.metrics.IncidentsTotal.WithLabelValues(string(to), string(inc.Severity)).Inc()
	return inc, nil
}

// Incident retrieves an incident by id.
func (s *Service) Incident(ctx context.Context, id string) (*Incident, bool, error) {
	inc, ok, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, false, storeUnavailable("get incident", err)
	}
	return inc, ok, nil
}

// Alert retrieves an alert by id.
func (s *Service) Alert(ctx context.Context, id string) (*alert.Alert, bool, error) {
	a, ok, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, false, storeUnavailable("get alert", err)
	}
	return a, ok, nil
}

// ListIncidents lists incidents matching the filter.
func (s *Service) ListIncidents(ctx context.Context, f Filter) ([]*Incident, error) {
	incs, err := s.store.ListIncidents(ctx, f)
	if err != nil {
		return nil, storeUnavailable("list incidents", err)
	}
	return incs, nil
}

// ListAlerts lists alerts matching the filter.
func (s *Service) ListAlerts(ctx context.Context, f AlertFilter) ([]*alert.Alert, error) {
	alerts, err := s.store.ListAlerts(ctx, f)
	if err != nil {
		return nil, storeUnavailable("list alerts", err)
	}
	return alerts, nil
}

// EscalationFired answers a deadline firing from the scheduler. It runs
// under the incident lock and re-reads the incident so a firing that lost
// the race to an acknowledgment or resolution stands down without
// notifying: timer firings and lifecycle transitions are linearized here.
func (s *Service) EscalationFired(ctx context.Context, incidentID string, step int) (int, time.Duration, bool) {
	unlock := s.locks.lock("incident:" + incidentID)
	defer unlock()

	inc, ok, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		s.logger.Error(ctx, err, "escalation blocked by store outage, retrying tier",
			"incident_id", incidentID, "step", step)
		return step, escalationRetryDelay, true
	}
	if !ok {
		return 0, 0, false
	}
	if inc.Status == StatusResolved || inc.AcknowledgedAt != nil {
		return 0, 0, false
	}

	policy := s.policies.PolicyFor(inc.Service)
	if step >= len(policy.Tiers) {
		// Policy shrank on reload while this tier was armed.
		s.metrics.Escalations.WithLabelValues("none", "policy_exhausted").Inc()
		s.logger.Warn(ctx, "escalation policy exhausted", "incident_id", inc.ID, "tiers", len(policy.Tiers))
		return 0, 0, false
	}
	tier := policy.Tiers[step]

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	nerr := s.notifier.Notify(nctx, notify.Notification{
		Channel:    tier.Channel,
		Target:     tier.Target,
		IncidentID: inc.ID,
		Title:      inc.Title,
		Service:    inc.Service,
		Severity:   inc.Severity,
		Tier:       step + 1,
		CreatedAt:  inc.CreatedAt,
	})
	cancel()

	status := "sent"
	if nerr != nil {
		// Dispatch failure is absorbed: counted and logged, never fatal
		// to the incident and never retried here.
		status = "failed"
		s.logger.Error(ctx, nerr, "escalation notification failed",
			"incident_id", inc.ID, "channel", tier.Channel, "target", tier.Target, "tier", step+1)
	}
	s.metrics.NotificationsSent.WithLabelValues(tier.Channel, status).Inc()
	s.metrics.Escalations.WithLabelValues(tier.Target, "ack_timeout").Inc()

	inc.Notes = append(inc.Notes, fmt.Sprintf("escalated to %s via %s (tier %d)", tier.Target, tier.Channel, step+1))

	next := step + 1
	rearm := next < len(policy.Tiers)
	if !rearm {
		inc.Notes = append(inc.Notes, "escalation policy exhausted; incident remains open")
		s.metrics.Escalations.WithLabelValues(tier.Target, "policy_exhausted").Inc()
		s.logger.Warn(ctx, "escalation policy exhausted",
			"incident_id", inc.ID, "tiers", len(policy.Tiers))
	}

	if perr := s.store.PutIncident(ctx, inc); perr != nil {
		s.logger.Error(ctx, perr, "escalation note not persisted", "incident_id", inc.ID)
	}

	if rearm {
		return next, policy.Tiers[next].After, true
	}
	return 0, 0, false
}

// RearmOpen re-arms escalation for every unacknowledged, unresolved
// incident in the store. Called once at startup so a restart cannot
// orphan incidents that were mid-escalation.
func (s *Service) RearmOpen(ctx context.Context) (int, error) {
	n := 0
	for _, st := range []Status{StatusOpen, StatusInProgress} {
		incs, err := s.store.ListIncidents(ctx, Filter{Status: st})
		if err != nil {
			return n, storeUnavailable("list incidents", err)
		}
		for _, inc := range incs {
			if inc.AcknowledgedAt != nil {
				continue
			}
			s.startEscalation(inc)
			n++
		}
	}
	if n > 0 {
		s.logger.Info(ctx, "escalation timers re-armed", "count", n)
	}
	return n, nil
}
