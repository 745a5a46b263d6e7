// README: Offer scheduler: observes the ride pool and races drivers onto open rides.
package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"farebid/internal/config"
	"farebid/internal/modules/driver"
	"farebid/internal/modules/ride"
	"farebid/internal/notify"
	"farebid/internal/observability"
	"farebid/internal/types"
)

// RideOps is the slice of the ride service the scheduler drives.
type RideOps interface {
	Get(ctx context.Context, id types.ID) (*ride.Ride, error)
	ListSearching(ctx context.Context) ([]*ride.Ride, error)
	Claim(ctx context.Context, cmd ride.ClaimCommand) (bool, error)
	Reject(ctx context.Context, cmd ride.RejectCommand) error
	Cancel(ctx context.Context, cmd ride.CancelCommand) error
}

// DriverDirectory is the read side of the driver pool.
type DriverDirectory interface {
	Get(ctx context.Context, id types.ID) (*driver.Driver, error)
	ListAvailable(ctx context.Context) ([]*driver.Driver, error)
}

// Scheduler reacts to change notifications: whenever a ride is (re)opened or a
// driver re-enters the pool, it picks the first untried eligible candidate and
// attempts the conditional claim. Correctness rests on the store's version
// guard, not on anything the scheduler serializes itself; a lost claim is
// silently abandoned.
type Scheduler struct {
	rides   RideOps
	drivers DriverDirectory
	feed    ride.Feed
	timers  *TimerSet
	sink    notify.Sink
	cfg     config.DispatchConfig
	log     *slog.Logger

	mu sync.Mutex
	// rejectedShadow mirrors rejectedBy locally per driver so a driver is
	// never re-offered a ride even when the backing rejection write failed.
	rejectedShadow map[types.ID]map[types.ID]struct{}
	searchTimers   map[types.ID]*time.Timer
}

func NewScheduler(rides RideOps, drivers DriverDirectory, feed ride.Feed, sink notify.Sink, cfg config.DispatchConfig, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		rides:          rides,
		drivers:        drivers,
		feed:           feed,
		sink:           sink,
		cfg:            cfg,
		log:            log,
		rejectedShadow: make(map[types.ID]map[types.ID]struct{}),
		searchTimers:   make(map[types.ID]*time.Timer),
	}
	s.timers = NewTimerSet(cfg.ResponseWindow, cfg.CountdownTick, s.autoReject)
	return s
}

// Timers exposes the response window timer set (drafting-mode pause lives
// there).
func (s *Scheduler) Timers() *TimerSet {
	return s.timers
}

// Run subscribes to the change feed and dispatches until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	changes, cancel := s.feed.Subscribe(ctx)
	defer cancel()

	// Pick up rides that were already open before this process subscribed.
	s.rescanOpenRides(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			s.handleChange(ctx, ch)
		}
	}
}

func (s *Scheduler) handleChange(ctx context.Context, ch ride.Change) {
	switch ch.Status {
	case ride.StatusSearching:
		if ch.OfferedTo != nil {
			// A claim landed; the offer now rides out its response window.
			return
		}
		s.ensureSearchWatchdog(ch.RideID)
		s.offerRide(ctx, ch.RideID)
	case ride.StatusCounterOffered:
		// A counter-offer terminates that driver's response timer; the ride
		// is now in the passenger's court.
		if ch.OfferedTo != nil {
			s.timers.Cancel(ch.RideID, *ch.OfferedTo)
		} else {
			s.timers.CancelRide(ch.RideID)
		}
		s.stopSearchWatchdog(ch.RideID)
		s.notifyCounter(ctx, ch.RideID)
	case ride.StatusAccepted:
		if holder, ok := s.timers.HolderFor(ch.RideID); ok && (ch.DriverID == nil || holder != *ch.DriverID) {
			s.sink.Notify(notify.Event{Kind: notify.KindAssignmentLost, RideID: ch.RideID, Recipient: holder})
		}
		s.timers.CancelRide(ch.RideID)
		s.stopSearchWatchdog(ch.RideID)
		s.notifyAccepted(ctx, ch.RideID)
	case ride.StatusCancelled:
		if holder, ok := s.timers.HolderFor(ch.RideID); ok {
			s.sink.Notify(notify.Event{Kind: notify.KindRideCancelled, RideID: ch.RideID, Recipient: holder})
		}
		s.timers.CancelRide(ch.RideID)
		s.stopSearchWatchdog(ch.RideID)
		s.notifyCancelled(ctx, ch.RideID)
	default:
		s.timers.CancelRide(ch.RideID)
		s.stopSearchWatchdog(ch.RideID)
	}
}

// DriverAvailable implements driver.AvailabilityListener: a driver rejoining
// the pool immediately scans for an open ride.
func (s *Scheduler) DriverAvailable(ctx context.Context, driverID types.ID) {
	d, err := s.drivers.Get(ctx, driverID)
	if err != nil {
		s.log.Warn("dispatch: load driver", "driver_id", driverID, "err", err)
		return
	}
	s.scanForDriver(ctx, d)
}

// offerRide walks the available drivers in pool order and claims the ride for
// the first eligible one.
func (s *Scheduler) offerRide(ctx context.Context, rideID types.ID) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return
	}
	if r.Status != ride.StatusSearching || r.HasOpenOffer(time.Now(), s.cfg.StaleOfferAfter) {
		return
	}
	candidates, err := s.drivers.ListAvailable(ctx)
	if err != nil {
		s.log.Warn("dispatch: list drivers", "err", err)
		return
	}
	for _, d := range candidates {
		if s.tryOffer(ctx, r, d) {
			return
		}
	}
}

// scanForDriver walks searching rides in creation order and claims the first
// candidate for this driver.
func (s *Scheduler) scanForDriver(ctx context.Context, d *driver.Driver) {
	if s.timers.ActiveForDriver(d.ID) {
		return
	}
	open, err := s.rides.ListSearching(ctx)
	if err != nil {
		s.log.Warn("dispatch: list searching rides", "err", err)
		return
	}
	now := time.Now()
	for _, r := range open {
		if r.HasOpenOffer(now, s.cfg.StaleOfferAfter) {
			continue
		}
		if s.tryOffer(ctx, r, d) {
			return
		}
	}
}

// tryOffer applies the candidate filter and attempts the conditional claim.
func (s *Scheduler) tryOffer(ctx context.Context, r *ride.Ride, d *driver.Driver) bool {
	if !CanSee(d.Tier, r.Tier) {
		return false
	}
	if r.HasRejected(d.ID) || s.shadowRejected(d.ID, r.ID) {
		return false
	}
	if s.timers.ActiveForDriver(d.ID) {
		return false
	}
	claimed, err := s.rides.Claim(ctx, ride.ClaimCommand{RideID: r.ID, DriverID: d.ID})
	if err != nil {
		s.log.Warn("dispatch: claim", "ride_id", r.ID, "driver_id", d.ID, "err", err)
		return false
	}
	if !claimed {
		return false
	}
	s.timers.Start(r.ID, d.ID)
	s.sink.Notify(notify.Event{
		Kind:      notify.KindOfferReceived,
		RideID:    r.ID,
		Recipient: d.ID,
		Data: map[string]string{
			"fare":         strconv.FormatInt(r.Fare.Amount, 10),
			"currency":     r.Fare.Currency,
			"pickup_addr":  r.PickupAddr,
			"dropoff_addr": r.DropoffAddr,
			"tier":         string(r.Tier),
		},
	})
	return true
}

// Decline is the driver's explicit "no": same effect as an expiry, minus the
// expired notice. Safe to call twice.
func (s *Scheduler) Decline(ctx context.Context, rideID, driverID types.ID) error {
	s.timers.Cancel(rideID, driverID)
	s.shadowReject(driverID, rideID)
	return s.rides.Reject(ctx, ride.RejectCommand{RideID: rideID, DriverID: driverID})
}

// autoReject fires when a response window elapses un-answered. The expiry is a
// local-clock fact: the driver-facing notice goes out and the local rejected
// shadow is updated whether or not the store write lands.
func (s *Scheduler) autoReject(rideID, driverID types.ID) {
	s.shadowReject(driverID, rideID)
	observability.OffersExpired.Inc()
	s.sink.Notify(notify.Event{Kind: notify.KindOfferExpired, RideID: rideID, Recipient: driverID})

	// Detached from any request context; expiry outlives them all.
	ctx := context.Background()
	if err := s.rides.Reject(ctx, ride.RejectCommand{RideID: rideID, DriverID: driverID}); err != nil {
		s.log.Warn("dispatch: auto-reject write", "ride_id", rideID, "driver_id", driverID, "err", err)
	}
}

func (s *Scheduler) notifyCounter(ctx context.Context, rideID types.ID) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil || r.Status != ride.StatusCounterOffered {
		return
	}
	s.sink.Notify(notify.Event{
		Kind:      notify.KindCounterReceived,
		RideID:    r.ID,
		Recipient: r.PassengerID,
		Data: map[string]string{
			"fare":     strconv.FormatInt(r.Fare.Amount, 10),
			"currency": r.Fare.Currency,
		},
	})
}

// notifyAccepted tells the passenger their ride is bound, and the driver when
// the binding came out of a negotiated fare.
func (s *Scheduler) notifyAccepted(ctx context.Context, rideID types.ID) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil || r.Status != ride.StatusAccepted || r.DriverID == nil {
		return
	}
	s.sink.Notify(notify.Event{
		Kind:      notify.KindRideAccepted,
		RideID:    r.ID,
		Recipient: r.PassengerID,
		Data: map[string]string{
			"driver_id": string(*r.DriverID),
			"fare":      strconv.FormatInt(r.Fare.Amount, 10),
			"currency":  r.Fare.Currency,
		},
	})
	if r.OriginalFare != nil {
		s.sink.Notify(notify.Event{Kind: notify.KindCounterAccepted, RideID: r.ID, Recipient: *r.DriverID})
	}
}

// notifyCancelled routes the cancellation notice to whichever party did not
// issue it.
func (s *Scheduler) notifyCancelled(ctx context.Context, rideID types.ID) {
	r, err := s.rides.Get(ctx, rideID)
	if err != nil || r.Status != ride.StatusCancelled || r.CancelledBy == nil {
		return
	}
	if *r.CancelledBy != ride.ActorPassenger {
		data := map[string]string{}
		if r.CancelReason != nil {
			data["reason"] = *r.CancelReason
		}
		s.sink.Notify(notify.Event{Kind: notify.KindRideCancelled, RideID: r.ID, Recipient: r.PassengerID, Data: data})
	}
	if *r.CancelledBy == ride.ActorPassenger && r.DriverID != nil {
		s.sink.Notify(notify.Event{Kind: notify.KindRideCancelled, RideID: r.ID, Recipient: *r.DriverID})
	}
}

func (s *Scheduler) rescanOpenRides(ctx context.Context) {
	open, err := s.rides.ListSearching(ctx)
	if err != nil {
		s.log.Warn("dispatch: initial scan", "err", err)
		return
	}
	for _, r := range open {
		s.ensureSearchWatchdog(r.ID)
		s.offerRide(ctx, r.ID)
	}
}

// ensureSearchWatchdog schedules the one-shot no-driver-found check for a
// ride. A ride that is still fruitlessly searching when it fires is cancelled
// by the system; a ride with a live offer is deemed engaged and re-checked one
// stale window later.
func (s *Scheduler) ensureSearchWatchdog(rideID types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.searchTimers[rideID]; ok {
		return
	}
	s.searchTimers[rideID] = time.AfterFunc(s.cfg.SearchTimeout, func() {
		s.checkSearchTimeout(rideID)
	})
}

func (s *Scheduler) checkSearchTimeout(rideID types.ID) {
	ctx := context.Background()
	r, err := s.rides.Get(ctx, rideID)
	if err != nil || r.Status != ride.StatusSearching {
		s.stopSearchWatchdog(rideID)
		return
	}
	if r.HasOpenOffer(time.Now(), s.cfg.StaleOfferAfter) {
		s.mu.Lock()
		s.searchTimers[rideID] = time.AfterFunc(s.cfg.StaleOfferAfter, func() {
			s.checkSearchTimeout(rideID)
		})
		s.mu.Unlock()
		return
	}
	s.stopSearchWatchdog(rideID)
	if err := s.rides.Cancel(ctx, ride.CancelCommand{
		RideID: rideID,
		Reason: ride.ReasonSearchTimeout,
		Actor:  ride.ActorSystem,
	}); err != nil {
		s.log.Warn("dispatch: search timeout cancel", "ride_id", rideID, "err", err)
	}
}

func (s *Scheduler) stopSearchWatchdog(rideID types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.searchTimers[rideID]; ok {
		t.Stop()
		delete(s.searchTimers, rideID)
	}
}

func (s *Scheduler) shadowReject(driverID, rideID types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rejectedShadow[driverID]
	if !ok {
		m = make(map[types.ID]struct{})
		s.rejectedShadow[driverID] = m
	}
	m[rideID] = struct{}{}
}

func (s *Scheduler) shadowRejected(driverID, rideID types.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rejectedShadow[driverID][rideID]
	return ok
}
