package escalate

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fireRecorder captures firings and scripts the re-arm response.
type fireRecorder struct {
	mu    sync.Mutex
	calls []struct {
		incidentID string
		step       int
	}
	next  int
	delay time.Duration
	rearm bool
	done  chan struct{} // closed on first call if set
}

func (f *fireRecorder) fire(_ context.Context, incidentID string, step int) (int, time.Duration, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, struct {
		incidentID string
		step       int
	}{incidentID, step})
	n := len(f.calls)
	f.mu.Unlock()
	if f.done != nil && n == 1 {
		close(f.done)
	}
	return f.next, f.delay, f.rearm
}

func (f *fireRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestScheduler_FiresAfterDelay(t *testing.T) {
	t.Parallel()

	rec := &fireRecorder{done: make(chan struct{})}
	s := NewScheduler(rec.fire, nil)
	defer s.Stop()

	s.Arm("inc-1", 0, 10*time.Millisecond)

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls[0].incidentID != "inc-1" || rec.calls[0].step != 0 {
		t.Errorf("fired with %+v", rec.calls[0])
	}

	if _, ok := s.Pending("inc-1"); ok {
		t.Error("timer still pending after firing with no re-arm")
	}
}

func TestScheduler_CancelPreventsFiring(t *testing.T) {
	t.Parallel()

	rec := &fireRecorder{}
	s := NewScheduler(rec.fire, nil)
	defer s.Stop()

	s.Arm("inc-1", 0, 20*time.Millisecond)
	s.Cancel("inc-1")

	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("fired %d times after cancel, want 0", rec.count())
	}

	// Cancel with nothing armed is a no-op.
	s.Cancel("inc-1")
	s.Cancel("never-armed")
}

func TestScheduler_RearmReplacesTimer(t *testing.T) {
	t.Parallel()

	rec := &fireRecorder{}
	s := NewScheduler(rec.fire, nil)
	defer s.Stop()

	// A long tier-1 deadline replaced by a short one: only the
	// replacement fires, with the new step.
	s.Arm("inc-1", 0, time.Hour)
	s.Arm("inc-1", 1, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 1 {
		t.Fatalf("fired %d times, want 1", len(rec.calls))
	}
	if rec.calls[0].step != 1 {
		t.Errorf("fired step %d, want 1", rec.calls[0].step)
	}
}

func TestScheduler_FireRearmsNextTier(t *testing.T) {
	t.Parallel()

	rec := &fireRecorder{next: 1, delay: 5 * time.Millisecond, rearm: true}
	s := NewScheduler(rec.fire, nil)
	defer s.Stop()

	s.Arm("inc-1", 0, 5*time.Millisecond)

	// With rearm always true the chain keeps going; wait for at least
	// two tiers to fire.
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) < 2 {
		t.Fatalf("fired %d times, want >= 2", len(rec.calls))
	}
	if rec.calls[0].step != 0 || rec.calls[1].step != 1 {
		t.Errorf("steps = %d, %d, want 0, 1", rec.calls[0].step, rec.calls[1].step)
	}
}

func TestScheduler_Pending(t *testing.T) {
	t.Parallel()

	rec := &fireRecorder{}
	s := NewScheduler(rec.fire, nil)
	defer s.Stop()

	if _, ok := s.Pending("inc-1"); ok {
		t.Error("Pending true before arming")
	}

	before := time.Now()
	s.Arm("inc-1", 2, time.Hour)

	tm, ok := s.Pending("inc-1")
	if !ok {
		t.Fatal("Pending false after arming")
	}
	if tm.IncidentID != "inc-1" || tm.Step != 2 {
		t.Errorf("timer = %+v", tm)
	}
	if tm.Deadline.Before(before.Add(time.Hour)) {
		t.Errorf("deadline %v too early", tm.Deadline)
	}
}

func TestScheduler_StopCancelsEverything(t *testing.T) {
	t.Parallel()

	rec := &fireRecorder{}
	s := NewScheduler(rec.fire, nil)

	s.Arm("inc-1", 0, 20*time.Millisecond)
	s.Arm("inc-2", 0, 20*time.Millisecond)
	s.Arm("inc-3", 0, 20*time.Millisecond)
	s.Stop()

	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("fired %d times after Stop, want 0", rec.count())
	}
	if _, ok := s.Pending("inc-2"); ok {
		t.Error("timer still pending after Stop")
	}
}

func TestScheduler_IndependentIncidents(t *testing.T) {
	t.Parallel()

	rec := &fireRecorder{}
	s := NewScheduler(rec.fire, nil)
	defer s.Stop()

	s.Arm("inc-keep", 0, 10*time.Millisecond)
	s.Arm("inc-drop", 0, 10*time.Millisecond)
	s.Cancel("inc-drop")

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 1 {
		t.Fatalf("fired %d times, want 1", len(rec.calls))
	}
	if rec.calls[0].incidentID != "inc-keep" {
		t.Errorf("fired for %s, want inc-keep", rec.calls[0].incidentID)
	}
}
