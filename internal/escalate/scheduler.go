package escalate

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// FireFunc is invoked when an incident's acknowledgment deadline passes.
// step is the policy step the deadline belonged to. The return values say
// whether to re-arm, for which step, and after what delay. FireFunc owns
// the decision of whether escalation is still warranted; the scheduler
// only owns the clock.
type FireFunc func(ctx context.Context, incidentID string, step int) (next int, delay time.Duration, rearm bool)

// Timer describes a pending escalation deadline.
type Timer struct {
	IncidentID string
	Step       int
	ArmedAt    time.Time
	Deadline   time.Time
}

type entry struct {
	step     int
	gen      uint64
	armedAt  time.Time
	deadline time.Time
	t        *time.Timer
}

// Scheduler keeps one replaceable deadline timer per incident. Arming
// replaces any prior timer for the same incident so a tier can fire at
// most once; Cancel is idempotent and safe with no timer armed. A
// generation counter makes a cancelled-then-rearmed timer's stale firing
// a no-op.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*entry
	gen    uint64
	fire   FireFunc
	logger log.Logger
}

// NewScheduler creates a scheduler that calls fire on every deadline.
func NewScheduler(fire FireFunc, logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scheduler{
		timers: make(map[string]*entry),
		fire:   fire,
		logger: logger,
	}
}

// Arm schedules (or replaces) the escalation deadline for an incident.
func (s *Scheduler) Arm(incidentID string, step int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[incidentID]; ok {
		old.t.Stop()
	}

	s.gen++
	gen := s.gen
	now := time.Now()
	e := &entry{
		step:     step,
		gen:      gen,
		armedAt:  now,
		deadline: now.Add(delay),
	}
	e.t = time.AfterFunc(delay, func() { s.fired(incidentID, gen) })
	s.timers[incidentID] = e
}

// Cancel retires the incident's timer if one is armed.
func (s *Scheduler) Cancel(incidentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[incidentID]; ok {
		e.t.Stop()
		delete(s.timers, incidentID)
	}
}

// Pending reports the currently armed timer for an incident, if any.
func (s *Scheduler) Pending(incidentID string) (Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[incidentID]
	if !ok {
		return Timer{}, false
	}
	return Timer{
		IncidentID: incidentID,
		Step:       e.step,
		ArmedAt:    e.armedAt,
		Deadline:   e.deadline,
	}, true
}

// Stop cancels every pending timer. Used at shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.timers {
		e.t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fired(incidentID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[incidentID]
	if !ok || e.gen != gen {
		// Cancelled or replaced between firing and acquiring the lock.
		s.mu.Unlock()
		return
	}
	step := e.step
	delete(s.timers, incidentID)
	s.mu.Unlock()

	ctx := context.Background()
	next, delay, rearm := s.fire(ctx, incidentID, step)
	if rearm {
		s.logger.Info(ctx, "escalation re-armed",
			"incident_id", incidentID,
			"next_step", next,
			"delay", delay.String(),
		)
		s.Arm(incidentID, next, delay)
	}
}
