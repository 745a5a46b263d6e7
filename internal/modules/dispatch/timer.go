// README: Response window timers, keyed by (ride, driver), cancellable and pausable.
package dispatch

import (
	"sync"
	"time"

	"farebid/internal/types"
)

type timerKey struct {
	rideID   types.ID
	driverID types.ID
}

type countdown struct {
	remaining int
	paused    bool
	stop      chan struct{}
}

// TimerSet runs one bounded countdown per open offer. The countdown decrements
// once per tick and fires the expiry callback at zero. While the driver is
// drafting a counter-offer the countdown is paused, not cancelled: a live
// negotiation must never be wiped out by expiry.
type TimerSet struct {
	window   time.Duration
	tick     time.Duration
	onExpire func(rideID, driverID types.ID)

	mu     sync.Mutex
	timers map[timerKey]*countdown
}

func NewTimerSet(window, tick time.Duration, onExpire func(rideID, driverID types.ID)) *TimerSet {
	return &TimerSet{
		window:   window,
		tick:     tick,
		onExpire: onExpire,
		timers:   make(map[timerKey]*countdown),
	}
}

// Start begins the countdown for an offer, replacing any previous timer for
// the same pair.
func (t *TimerSet) Start(rideID, driverID types.ID) {
	k := timerKey{rideID, driverID}
	c := &countdown{
		remaining: int(t.window / t.tick),
		stop:      make(chan struct{}),
	}

	t.mu.Lock()
	if prev, ok := t.timers[k]; ok {
		close(prev.stop)
	}
	t.timers[k] = c
	t.mu.Unlock()

	go t.run(k, c)
}

func (t *TimerSet) run(k timerKey, c *countdown) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			cur, ok := t.timers[k]
			if !ok || cur != c {
				t.mu.Unlock()
				return
			}
			if c.paused {
				t.mu.Unlock()
				continue
			}
			c.remaining--
			if c.remaining > 0 {
				t.mu.Unlock()
				continue
			}
			delete(t.timers, k)
			t.mu.Unlock()
			t.onExpire(k.rideID, k.driverID)
			return
		}
	}
}

// Cancel invalidates the timer before it fires; safe when no timer exists.
func (t *TimerSet) Cancel(rideID, driverID types.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := timerKey{rideID, driverID}
	if c, ok := t.timers[k]; ok {
		delete(t.timers, k)
		close(c.stop)
	}
}

// CancelRide invalidates every timer attached to the ride.
func (t *TimerSet) CancelRide(rideID types.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, c := range t.timers {
		if k.rideID == rideID {
			delete(t.timers, k)
			close(c.stop)
		}
	}
}

// SetCountering pauses or resumes the countdown while the driver composes a
// counter-offer. It reports whether a timer was present.
func (t *TimerSet) SetCountering(rideID, driverID types.ID, on bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.timers[timerKey{rideID, driverID}]
	if !ok {
		return false
	}
	c.paused = on
	return true
}

// ActiveForDriver reports whether the driver currently holds a running timer,
// i.e. an open offer awaiting their response.
func (t *TimerSet) ActiveForDriver(driverID types.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.timers {
		if k.driverID == driverID {
			return true
		}
	}
	return false
}

// HolderFor returns the driver holding a timer for the ride, if any.
func (t *TimerSet) HolderFor(rideID types.ID) (types.ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.timers {
		if k.rideID == rideID {
			return k.driverID, true
		}
	}
	return "", false
}
