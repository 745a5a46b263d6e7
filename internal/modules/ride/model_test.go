// README: Unit tests for the ride status machine and offer projection helpers.
package ride

import (
	"testing"
	"time"

	"farebid/internal/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusSearching, StatusCounterOffered, true},
		{StatusSearching, StatusAccepted, true},
		{StatusSearching, StatusCancelled, true},
		{StatusSearching, StatusCompleted, false},
		{StatusCounterOffered, StatusAccepted, true},
		{StatusCounterOffered, StatusSearching, true},
		{StatusCounterOffered, StatusCancelled, true},
		{StatusCounterOffered, StatusArrived, false},
		{StatusAccepted, StatusArrived, true},
		{StatusAccepted, StatusInProgress, false},
		{StatusArrived, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusSearching, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusSearching, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestHasOpenOffer(t *testing.T) {
	now := time.Now()
	d := types.ID("d1")

	r := &Ride{}
	if r.HasOpenOffer(now, 40*time.Second) {
		t.Fatal("ride without offer projection must not report an open offer")
	}

	fresh := now.Add(-10 * time.Second)
	r = &Ride{OfferedTo: &d, OfferedAt: &fresh}
	if !r.HasOpenOffer(now, 40*time.Second) {
		t.Fatal("10s old offer should still be open at a 40s stale window")
	}

	stale := now.Add(-41 * time.Second)
	r = &Ride{OfferedTo: &d, OfferedAt: &stale}
	if r.HasOpenOffer(now, 40*time.Second) {
		t.Fatal("offer older than the stale window must be treated as abandoned")
	}
}

func TestHasRejected(t *testing.T) {
	r := &Ride{RejectedBy: []types.ID{"d1", "d2"}}
	if !r.HasRejected("d1") {
		t.Fatal("expected d1 to be rejected")
	}
	if r.HasRejected("d3") {
		t.Fatal("d3 never rejected this ride")
	}
}
