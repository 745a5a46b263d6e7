// README: In-memory driver store for tests and local development.
package driver

import (
	"context"
	"sort"
	"sync"
	"time"

	"farebid/internal/types"
)

type MemStore struct {
	mu      sync.Mutex
	drivers map[types.ID]*Driver
	seq     int
}

func NewMemStore() *MemStore {
	return &MemStore{drivers: make(map[types.ID]*Driver)}
}

func (s *MemStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemStore) Upsert(_ context.Context, d *Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cp := *d
	cp.UpdatedAt = time.Now().Add(time.Duration(s.seq)) // stable ordering for tests
	s.drivers[d.ID] = &cp
	return nil
}

func (s *MemStore) SetStatus(_ context.Context, id types.ID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return ErrNotFound
	}
	s.seq++
	d.Status = status
	d.UpdatedAt = time.Now().Add(time.Duration(s.seq))
	return nil
}

func (s *MemStore) ListAvailable(_ context.Context) ([]*Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Driver
	for _, d := range s.drivers {
		if d.Status == StatusAvailable {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}
