package queue

import (
	"testing"

	"clinicq/waitqueue-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		want   bool
	}{
		{"call_next", models.StatusWaiting, true},
		{"call_next", models.StatusCalled, false},
		{"serve", models.StatusCalled, true},
		{"serve", models.StatusWaiting, false},
		{"serve", models.StatusServing, false},
		{"update", models.StatusWaiting, true},
		{"update", models.StatusCalled, false},
		{"update", models.StatusCompleted, false},
		{"update", models.StatusCancelled, false},
		{"unknown", models.StatusWaiting, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.action, tc.from); got != tc.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tc.action, tc.from, got, tc.want)
		}
	}
}
