// README: Outbound notification events and the bounded fan-out queue.
package notify

import (
	"context"
	"log/slog"
	"time"

	"farebid/internal/observability"
	"farebid/internal/types"
)

// Event kinds raised by the dispatch engine. Delivery is fire-and-forget; the
// engine's correctness never depends on any of these arriving.
const (
	KindOfferReceived   = "offer_received"
	KindOfferExpired    = "offer_expired"
	KindCounterReceived = "counter_offer_received"
	KindCounterAccepted = "counter_offer_accepted"
	KindRideAccepted    = "ride_accepted"
	KindRideCancelled   = "ride_cancelled"
	KindAssignmentLost  = "assignment_lost"
)

type Event struct {
	Kind      string            `json:"kind"`
	RideID    types.ID          `json:"ride_id"`
	Recipient types.ID          `json:"recipient"`
	Data      map[string]string `json:"data,omitempty"`
	At        time.Time         `json:"at"`
}

// Sink accepts events without blocking.
type Sink interface {
	Notify(ev Event)
}

// Sender is a delivery backend (FCM, websocket stream).
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// Queue decouples notification delivery from the transaction path: a bounded
// channel feeds a single worker, and a full queue drops rather than blocks.
type Queue struct {
	ch      chan Event
	senders []Sender
	log     *slog.Logger
}

func NewQueue(size int, log *slog.Logger, senders ...Sender) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan Event, size), senders: senders, log: log}
}

func (q *Queue) Notify(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case q.ch <- ev:
	default:
		observability.NotificationsDropped.Inc()
		q.log.Warn("notify: queue full, dropping", "kind", ev.Kind, "ride_id", ev.RideID)
	}
}

// Run drains the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.ch:
			q.deliver(ctx, ev)
		}
	}
}

func (q *Queue) deliver(ctx context.Context, ev Event) {
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, s := range q.senders {
		if err := s.Send(sendCtx, ev); err != nil {
			q.log.Warn("notify: send failed", "kind", ev.Kind, "ride_id", ev.RideID, "err", err)
		}
	}
}

// Recorder is a test double capturing every event.
type Recorder struct {
	ch chan Event
}

func NewRecorder() *Recorder {
	return &Recorder{ch: make(chan Event, 128)}
}

func (r *Recorder) Notify(ev Event) {
	select {
	case r.ch <- ev:
	default:
	}
}

// Events returns the capture channel for test assertions.
func (r *Recorder) Events() <-chan Event {
	return r.ch
}
