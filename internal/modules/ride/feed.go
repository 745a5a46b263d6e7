// README: Change feed contract plus the in-process implementation.
package ride

import (
	"context"
	"sync"
	"time"

	"farebid/internal/types"
)

// Change is published after every successful ride mutation. Subscribers must
// treat it as a hint and re-read the ride; the feed is best-effort.
type Change struct {
	RideID    types.ID  `json:"ride_id"`
	Status    Status    `json:"status"`
	OfferedTo *types.ID `json:"offered_to,omitempty"`
	DriverID  *types.ID `json:"driver_id,omitempty"`
	At        time.Time `json:"at"`
}

type Feed interface {
	// Publish must never block the transaction path.
	Publish(ctx context.Context, ch Change)
	// Subscribe returns a channel of changes and a cancel function. Slow
	// subscribers lose changes rather than stalling the publisher.
	Subscribe(ctx context.Context) (<-chan Change, func())
}

// MemFeed fans changes out to in-process subscribers over buffered channels.
type MemFeed struct {
	mu   sync.Mutex
	subs map[int]chan Change
	next int
}

func NewMemFeed() *MemFeed {
	return &MemFeed{subs: make(map[int]chan Change)}
}

func (f *MemFeed) Publish(_ context.Context, ch Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		select {
		case sub <- ch:
		default:
		}
	}
}

func (f *MemFeed) Subscribe(_ context.Context) (<-chan Change, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	sub := make(chan Change, 64)
	f.subs[id] = sub
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if s, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(s)
		}
	}
	return sub, cancel
}
