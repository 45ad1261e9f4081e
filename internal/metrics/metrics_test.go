package metrics

import (
	"strings"
	"testing"
)

func TestUsage_TrackAndCount(t *testing.T) {
	u := NewUsage("aws")

	u.Track("detect_faces")
	u.Track("detect_faces")
	u.Track("compare_faces")

	if got := u.Calls("detect_faces"); got != 2 {
		t.Errorf("expected 2 detect_faces calls, got %d", got)
	}
	if got := u.Calls("compare_faces"); got != 1 {
		t.Errorf("expected 1 compare_faces call, got %d", got)
	}
	if got := u.TotalCalls(); got != 3 {
		t.Errorf("expected 3 total calls, got %d", got)
	}
}

func TestUsage_EstimatedCost(t *testing.T) {
	u := NewUsage("aws")

	for range 1000 {
		u.Track("detect_faces")
	}

	// prices.yaml: detect_faces is 1.00 per 1000 calls.
	if got := u.EstimatedCost(); got != 1.00 {
		t.Errorf("expected cost 1.00, got %f", got)
	}
}

func TestUsage_LocalProviderIsFree(t *testing.T) {
	u := NewUsage("local")

	u.Track("detect_faces")
	u.Track("encode")

	if got := u.EstimatedCost(); got != 0 {
		t.Errorf("expected zero cost for local provider, got %f", got)
	}
}

func TestUsage_Faces(t *testing.T) {
	u := NewUsage("azure")

	u.AddFaces(3, 1)
	u.AddFaces(2, 2)

	if got := u.FacesDetected(); got != 5 {
		t.Errorf("expected 5 faces detected, got %d", got)
	}
	if got := u.FacesMatched(); got != 3 {
		t.Errorf("expected 3 faces matched, got %d", got)
	}
}

func TestUsage_Reset(t *testing.T) {
	u := NewUsage("aws")
	u.Track("detect_faces")
	u.AddFaces(1, 1)

	u.Reset()

	if u.TotalCalls() != 0 || u.FacesDetected() != 0 || u.FacesMatched() != 0 {
		t.Error("expected all counters to be zero after reset")
	}
}

func TestUsage_Summary(t *testing.T) {
	u := NewUsage("azure")
	u.Track("identify")
	u.AddFaces(4, 2)

	s := u.Summary()

	for _, want := range []string{"azure", "identify", "Faces detected: 4", "Faces matched:  2"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}
