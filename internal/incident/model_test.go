package incident

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	all := []Status{StatusOpen, StatusAcknowledged, StatusInProgress, StatusResolved}
	allowed := map[Status][]Status{
		StatusOpen:         {StatusAcknowledged, StatusInProgress, StatusResolved},
		StatusAcknowledged: {StatusInProgress, StatusResolved},
		StatusInProgress:   {StatusAcknowledged, StatusResolved},
		StatusResolved:     {},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"open", StatusOpen, false},
		{"ACKNOWLEDGED", StatusAcknowledged, false},
		{"  in_progress ", StatusInProgress, false},
		{"resolved", StatusResolved, false},
		{"closed", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIncidentClone_Isolation(t *testing.T) {
	t.Parallel()

	ack := time.Date(2026, 3, 14, 9, 1, 30, 0, time.UTC)
	orig := &Incident{
		ID:             "01A",
		Status:         StatusAcknowledged,
		AcknowledgedAt: &ack,
		AlertIDs:       []string{"a1", "a2"},
		Notes:          []string{"opened by alert a1"},
	}

	cp := orig.Clone()
	cp.AlertIDs = append(cp.AlertIDs, "a3")
	cp.Notes[0] = "mutated"
	*cp.AcknowledgedAt = cp.AcknowledgedAt.Add(time.Hour)

	if len(orig.AlertIDs) != 2 {
		t.Errorf("original AlertIDs mutated: %v", orig.AlertIDs)
	}
	if orig.Notes[0] != "opened by alert a1" {
		t.Errorf("original Notes mutated: %v", orig.Notes)
	}
	if !orig.AcknowledgedAt.Equal(ack) {
		t.Errorf("original AcknowledgedAt mutated: %v", orig.AcknowledgedAt)
	}
}
