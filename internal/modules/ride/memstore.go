// README: In-memory ride store with the same conditional-update semantics as PGStore.
package ride

import (
	"context"
	"sort"
	"sync"
	"time"

	"farebid/internal/types"
)

// MemStore mirrors the PGStore precondition checks under a mutex. It backs
// tests and local development without a database.
type MemStore struct {
	mu     sync.Mutex
	rides  map[types.ID]*Ride
	events []Event
}

func NewMemStore() *MemStore {
	return &MemStore{rides: make(map[types.ID]*Ride)}
}

func (s *MemStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneRide(r)
	s.rides[r.ID] = cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRide(r), nil
}

func (s *MemStore) ListSearching(_ context.Context) ([]*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Ride
	for _, r := range s.rides {
		if r.Status == StatusSearching {
			out = append(out, cloneRide(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) ClaimOffer(_ context.Context, id types.ID, version int, driverID types.ID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.Status != StatusSearching || r.StatusVersion != version {
		return false, nil
	}
	d := driverID
	t := at
	r.OfferedTo = &d
	r.OfferedAt = &t
	r.StatusVersion++
	return true, nil
}

func (s *MemStore) ReleaseOffer(_ context.Context, id types.ID, version int, driverID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.Status != StatusSearching || r.StatusVersion != version {
		return false, nil
	}
	if !r.HasRejected(driverID) {
		r.RejectedBy = append(r.RejectedBy, driverID)
	}
	if r.OfferedTo != nil && *r.OfferedTo == driverID {
		r.OfferedTo = nil
		r.OfferedAt = nil
	}
	r.StatusVersion++
	return true, nil
}

func (s *MemStore) SetCounterOffer(_ context.Context, id types.ID, version int, driverID types.ID, fare, originalFare types.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.StatusVersion != version {
		return false, nil
	}
	if r.Status != StatusSearching && r.Status != StatusCounterOffered {
		return false, nil
	}
	if r.OriginalFare == nil {
		of := originalFare
		r.OriginalFare = &of
	}
	r.Fare = fare
	r.Status = StatusCounterOffered
	d := driverID
	now := time.Now()
	r.OfferedTo = &d
	r.OfferedAt = &now
	r.StatusVersion++
	return true, nil
}

func (s *MemStore) WithdrawCounterOffer(_ context.Context, id types.ID, version int, restored types.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.Status != StatusCounterOffered || r.StatusVersion != version {
		return false, nil
	}
	r.Status = StatusSearching
	r.Fare = restored
	r.OriginalFare = nil
	r.OfferedTo = nil
	r.OfferedAt = nil
	r.StatusVersion++
	return true, nil
}

func (s *MemStore) BindDriver(_ context.Context, id types.ID, version int, driverID types.ID, fare types.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.StatusVersion != version {
		return false, nil
	}
	if r.Status != StatusSearching && r.Status != StatusCounterOffered {
		return false, nil
	}
	d := driverID
	now := time.Now()
	r.Status = StatusAccepted
	r.DriverID = &d
	r.Fare = fare
	r.OfferedTo = nil
	r.OfferedAt = nil
	r.AcceptedAt = &now
	r.StatusVersion++
	return true, nil
}

func (s *MemStore) UpdateStatus(_ context.Context, id types.ID, version int, from, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	if to == StatusCompleted {
		now := time.Now()
		r.CompletedAt = &now
	}
	r.StatusVersion++
	return true, nil
}

func (s *MemStore) SetCancelled(_ context.Context, id types.ID, version int, reason, actor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.Terminal() || r.StatusVersion != version {
		return false, nil
	}
	now := time.Now()
	r.Status = StatusCancelled
	r.CancelReason = &reason
	r.CancelledBy = &actor
	r.OfferedTo = nil
	r.OfferedAt = nil
	r.CancelledAt = &now
	r.StatusVersion++
	return true, nil
}

func (s *MemStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *e)
	return nil
}

// Events returns a snapshot of the appended state events, oldest first.
func (s *MemStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func cloneRide(r *Ride) *Ride {
	cp := *r
	if r.DriverID != nil {
		d := *r.DriverID
		cp.DriverID = &d
	}
	if r.OriginalFare != nil {
		f := *r.OriginalFare
		cp.OriginalFare = &f
	}
	if r.OfferedTo != nil {
		d := *r.OfferedTo
		cp.OfferedTo = &d
	}
	if r.OfferedAt != nil {
		t := *r.OfferedAt
		cp.OfferedAt = &t
	}
	if r.CancelReason != nil {
		v := *r.CancelReason
		cp.CancelReason = &v
	}
	if r.CancelledBy != nil {
		v := *r.CancelledBy
		cp.CancelledBy = &v
	}
	cp.RejectedBy = append([]types.ID(nil), r.RejectedBy...)
	if r.Breakdown != nil {
		cp.Breakdown = make(map[string]int64, len(r.Breakdown))
		for k, v := range r.Breakdown {
			cp.Breakdown[k] = v
		}
	}
	return &cp
}
