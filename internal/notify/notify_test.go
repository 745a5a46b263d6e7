// README: Notification queue tests: delivery fan-out and drop-on-full.
package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu   sync.Mutex
	sent []Event
}

func (s *captureSender) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ev)
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueDelivers(t *testing.T) {
	sender := &captureSender{}
	q := NewQueue(8, testLogger(), sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Notify(Event{Kind: KindOfferReceived, RideID: "r1", Recipient: "d1"})

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", sender.count())
	}

	sender.mu.Lock()
	ev := sender.sent[0]
	sender.mu.Unlock()
	if ev.Kind != KindOfferReceived || ev.Recipient != "d1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.At.IsZero() {
		t.Fatal("queue must stamp events on enqueue")
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	// No worker draining: the buffer fills and the overflow must be dropped
	// without blocking the caller.
	q := NewQueue(2, testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Notify(Event{Kind: KindOfferExpired, RideID: "r1", Recipient: "d1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	if len(q.ch) != 2 {
		t.Fatalf("expected buffer to hold 2 events, got %d", len(q.ch))
	}
}

func TestRecorderNeverBlocks(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 300; i++ {
		r.Notify(Event{Kind: KindRideCancelled, RideID: "r1", Recipient: "p1"})
	}
	select {
	case <-r.Events():
	default:
		t.Fatal("expected captured events")
	}
}
