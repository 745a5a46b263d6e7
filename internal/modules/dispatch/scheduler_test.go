// README: Scheduler tests with in-memory store, feed, and notification recorder.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"farebid/internal/config"
	"farebid/internal/modules/driver"
	"farebid/internal/modules/ride"
	"farebid/internal/notify"
	"farebid/internal/types"
)

type fixedOracle struct{}

func (fixedOracle) Quote(_ context.Context, _, _ types.Point, _ types.Tier, _ string) (ride.FareQuote, error) {
	return ride.FareQuote{
		Fare:      types.Money{Amount: 1000, Currency: "USD"},
		Breakdown: map[string]int64{"base": 1000},
	}, nil
}

type testEnv struct {
	rides   *ride.Service
	drivers *driver.Service
	sched   *Scheduler
	events  *eventLog
}

// eventLog drains the recorder on demand so assertions can look back at
// everything delivered so far.
type eventLog struct {
	rec  *notify.Recorder
	seen []notify.Event
}

func (l *eventLog) await(t *testing.T, kind string, recipient types.ID) notify.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, ev := range l.seen {
			if ev.Kind == kind && ev.Recipient == recipient {
				return ev
			}
		}
		select {
		case ev := <-l.rec.Events():
			l.seen = append(l.seen, ev)
		case <-deadline:
			t.Fatalf("no %s event for %s (saw %d events)", kind, recipient, len(l.seen))
		}
	}
}

// drain pulls everything delivered so far into the backlog and returns it.
func (l *eventLog) drain() []notify.Event {
	for {
		select {
		case ev := <-l.rec.Events():
			l.seen = append(l.seen, ev)
		default:
			return l.seen
		}
	}
}

func testCfg() config.DispatchConfig {
	return config.DispatchConfig{
		ResponseWindow:  100 * time.Millisecond,
		CountdownTick:   20 * time.Millisecond,
		StaleOfferAfter: 150 * time.Millisecond,
		SearchTimeout:   5 * time.Second,
	}
}

func newTestEnv(t *testing.T, cfg config.DispatchConfig) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := ride.NewMemFeed()
	drivers := driver.NewService(driver.NewMemStore(), log)
	rides := ride.NewService(ride.NewMemStore(), feed, drivers, fixedOracle{}, cfg.StaleOfferAfter, log)
	rec := notify.NewRecorder()
	sched := NewScheduler(rides, drivers, feed, rec, cfg, log)
	drivers.SetListener(sched)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	t.Cleanup(cancel)

	return &testEnv{rides: rides, drivers: drivers, sched: sched, events: &eventLog{rec: rec}}
}

func (e *testEnv) addDriver(t *testing.T, id types.ID, tier types.Tier) {
	t.Helper()
	ctx := context.Background()
	if err := e.drivers.Register(ctx, driver.RegisterCommand{DriverID: id, Tier: tier}); err != nil {
		t.Fatalf("register driver %s: %v", id, err)
	}
	if err := e.drivers.SetAvailability(ctx, id, true); err != nil {
		t.Fatalf("set availability %s: %v", id, err)
	}
}

func (e *testEnv) createRide(t *testing.T, tier types.Tier) types.ID {
	t.Helper()
	id, err := e.rides.Create(context.Background(), ride.CreateCommand{
		PassengerID: "p1",
		Pickup:      types.Point{Lat: 25.033, Lng: 121.565},
		Dropoff:     types.Point{Lat: 25.0478, Lng: 121.5318},
		Tier:        tier,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return id
}

func (e *testEnv) waitOfferedTo(t *testing.T, rideID, driverID types.ID) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		r, err := e.rides.Get(context.Background(), rideID)
		return err == nil && r.OfferedTo != nil && *r.OfferedTo == driverID
	}, "ride never offered to "+string(driverID))
}

func (e *testEnv) ride(t *testing.T, rideID types.ID) *ride.Ride {
	t.Helper()
	r, err := e.rides.Get(context.Background(), rideID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	return r
}

func TestOfferGoesToEligibleDriver(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "d1", types.TierEconomy)

	rideID := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideID, "d1")

	ev := env.events.await(t, notify.KindOfferReceived, "d1")
	if ev.RideID != rideID {
		t.Fatalf("offer notice for wrong ride: %s", ev.RideID)
	}
	if ev.Data["fare"] != "1000" {
		t.Fatalf("offer notice must carry the fare, got %q", ev.Data["fare"])
	}
}

func TestTierContainment(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "d_econ", types.TierEconomy)

	rideID := env.createRide(t, types.TierComfort)

	// An economy driver must never see a comfort ride.
	time.Sleep(150 * time.Millisecond)
	if r := env.ride(t, rideID); r.OfferedTo != nil {
		t.Fatalf("comfort ride offered to economy driver %s", *r.OfferedTo)
	}

	env.addDriver(t, "d_comf", types.TierComfort)
	env.waitOfferedTo(t, rideID, "d_comf")
}

func TestExpiryReoffersToNextDriver(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "d1", types.TierEconomy)
	env.addDriver(t, "d2", types.TierEconomy)

	rideID := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideID, "d1")

	// d1 never answers; the window elapses and the offer moves on.
	env.waitOfferedTo(t, rideID, "d2")
	env.events.await(t, notify.KindOfferExpired, "d1")

	waitFor(t, 2*time.Second, func() bool {
		return env.ride(t, rideID).HasRejected("d1")
	}, "expired driver must land in rejected_by")

	if r := env.ride(t, rideID); r.Status != ride.StatusSearching {
		t.Fatalf("ride must stay searching across expiries, got %s", r.Status)
	}
}

func TestDeclineSkipsDriverForGood(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "d1", types.TierEconomy)

	rideID := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideID, "d1")

	if err := env.sched.Decline(context.Background(), rideID, "d1"); err != nil {
		t.Fatalf("decline: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		r := env.ride(t, rideID)
		return r.OfferedTo == nil && r.HasRejected("d1")
	}, "decline must clear the offer and record the rejection")

	// With no other candidates the ride keeps searching, never re-offered to d1.
	time.Sleep(150 * time.Millisecond)
	r := env.ride(t, rideID)
	if r.Status != ride.StatusSearching || r.OfferedTo != nil {
		t.Fatalf("expected idle searching ride, got status=%s offered_to=%v", r.Status, r.OfferedTo)
	}

	env.addDriver(t, "d2", types.TierEconomy)
	env.waitOfferedTo(t, rideID, "d2")
}

func TestDraftingPauseHoldsOffer(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "d1", types.TierEconomy)

	rideID := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideID, "d1")

	if !env.sched.Timers().SetCountering(rideID, "d1", true) {
		t.Fatal("expected a pausable response timer")
	}

	// Far past the response window; the drafting driver must keep the offer.
	time.Sleep(200 * time.Millisecond)
	r := env.ride(t, rideID)
	if r.OfferedTo == nil || *r.OfferedTo != "d1" {
		t.Fatal("drafting driver lost the offer")
	}
	if r.HasRejected("d1") {
		t.Fatal("drafting driver must not be auto-rejected")
	}
}

func TestNegotiationFlow(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "d1", types.TierEconomy)

	rideID := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideID, "d1")

	env.sched.Timers().SetCountering(rideID, "d1", true)
	err := env.rides.CounterOffer(context.Background(), ride.CounterOfferCommand{
		RideID:   rideID,
		DriverID: "d1",
		Proposed: types.Money{Amount: 1500, Currency: "USD"},
	})
	if err != nil {
		t.Fatalf("counter-offer: %v", err)
	}

	// The counter hands the ride to the passenger and retires the timer.
	ev := env.events.await(t, notify.KindCounterReceived, "p1")
	if ev.Data["fare"] != "1500" {
		t.Fatalf("counter notice must carry the proposed fare, got %q", ev.Data["fare"])
	}
	waitFor(t, 2*time.Second, func() bool {
		return !env.sched.Timers().ActiveForDriver("d1")
	}, "counter-offer must retire the response timer")

	if err := env.rides.ResolveCounterAccept(context.Background(), ride.ResolveCounterCommand{RideID: rideID}); err != nil {
		t.Fatalf("accept counter: %v", err)
	}

	r := env.ride(t, rideID)
	if r.Status != ride.StatusAccepted || r.DriverID == nil || *r.DriverID != "d1" {
		t.Fatalf("expected d1 bound, got status=%s", r.Status)
	}
	if r.Fare.Amount != 1500 {
		t.Fatalf("expected negotiated fare, got %d", r.Fare.Amount)
	}

	env.events.await(t, notify.KindRideAccepted, "p1")
	env.events.await(t, notify.KindCounterAccepted, "d1")

	d, err := env.drivers.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if d.Status != driver.StatusOnRide {
		t.Fatalf("expected d1 on_ride, got %s", d.Status)
	}
}

// TestRejectedNegotiationEndsRide: driver A wins the offer and counters; the
// passenger declines. Driver B must never see the ride while the negotiation
// is open, nor after the resulting cancellation.
func TestRejectedNegotiationEndsRide(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "a", types.TierEconomy)
	env.addDriver(t, "b", types.TierComfort)

	rideID := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideID, "a")

	env.sched.Timers().SetCountering(rideID, "a", true)
	err := env.rides.CounterOffer(context.Background(), ride.CounterOfferCommand{
		RideID:   rideID,
		DriverID: "a",
		Proposed: types.Money{Amount: 2500, Currency: "USD"},
	})
	if err != nil {
		t.Fatalf("counter-offer: %v", err)
	}

	r := env.ride(t, rideID)
	if r.Status != ride.StatusCounterOffered || r.Fare.Amount != 2500 {
		t.Fatalf("unexpected state after counter: %s fare=%d", r.Status, r.Fare.Amount)
	}
	if r.OriginalFare == nil || r.OriginalFare.Amount != 1000 {
		t.Fatal("original fare must be preserved")
	}

	if err := env.rides.ResolveCounterReject(context.Background(), ride.ResolveCounterCommand{RideID: rideID}); err != nil {
		t.Fatalf("reject counter: %v", err)
	}

	r = env.ride(t, rideID)
	if r.Status != ride.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", r.Status)
	}
	if r.CancelReason == nil || *r.CancelReason != ride.ReasonCounterOfferRejected {
		t.Fatalf("expected counter_offer_rejected, got %v", r.CancelReason)
	}

	// Nothing ever went to b, and nothing will.
	time.Sleep(200 * time.Millisecond)
	for _, ev := range env.events.drain() {
		if ev.Recipient == "b" {
			t.Fatalf("driver b must never be contacted, saw %s", ev.Kind)
		}
	}
	if env.sched.Timers().ActiveForDriver("a") || env.sched.Timers().ActiveForDriver("b") {
		t.Fatal("cancelled ride must leave no live response timers")
	}
}

func TestSearchTimeoutCancelsRide(t *testing.T) {
	cfg := testCfg()
	cfg.SearchTimeout = 120 * time.Millisecond
	env := newTestEnv(t, cfg)

	rideID := env.createRide(t, types.TierEconomy)

	waitFor(t, 2*time.Second, func() bool {
		return env.ride(t, rideID).Status == ride.StatusCancelled
	}, "fruitless search must be cancelled by the system")

	r := env.ride(t, rideID)
	if r.CancelReason == nil || *r.CancelReason != ride.ReasonSearchTimeout {
		t.Fatalf("expected search_timeout reason, got %v", r.CancelReason)
	}
	if r.CancelledBy == nil || *r.CancelledBy != ride.ActorSystem {
		t.Fatalf("expected system actor, got %v", r.CancelledBy)
	}
}

func TestSearchTimeoutSparesLiveOffer(t *testing.T) {
	cfg := config.DispatchConfig{
		ResponseWindow:  200 * time.Millisecond,
		CountdownTick:   20 * time.Millisecond,
		StaleOfferAfter: 250 * time.Millisecond,
		SearchTimeout:   100 * time.Millisecond,
	}
	env := newTestEnv(t, cfg)
	env.addDriver(t, "d1", types.TierEconomy)

	rideID := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideID, "d1")

	// The watchdog fires while the offer is live; the ride must survive long
	// enough for the driver to answer.
	time.Sleep(130 * time.Millisecond)
	if r := env.ride(t, rideID); r.Status != ride.StatusSearching {
		t.Fatalf("ride with a live offer must not be timed out, got %s", r.Status)
	}

	if err := env.rides.Accept(context.Background(), ride.AcceptCommand{RideID: rideID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	if r := env.ride(t, rideID); r.Status != ride.StatusAccepted {
		t.Fatalf("accepted ride must stay accepted, got %s", r.Status)
	}
}

func TestBusyDriverGetsNoSecondOffer(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "d1", types.TierEconomy)

	rideA := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideA, "d1")
	rideB := env.createRide(t, types.TierEconomy)

	// d1 already holds rideA's offer; rideB must wait.
	time.Sleep(50 * time.Millisecond)
	if r := env.ride(t, rideB); r.OfferedTo != nil {
		t.Fatalf("busy driver offered a second ride: %s", *r.OfferedTo)
	}

	if err := env.rides.Accept(context.Background(), ride.AcceptCommand{RideID: rideA, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	env.addDriver(t, "d2", types.TierEconomy)
	env.waitOfferedTo(t, rideB, "d2")
}

func TestPassengerCancelNotifiesOfferHolder(t *testing.T) {
	env := newTestEnv(t, testCfg())
	env.addDriver(t, "d1", types.TierEconomy)

	rideID := env.createRide(t, types.TierEconomy)
	env.waitOfferedTo(t, rideID, "d1")

	err := env.rides.Cancel(context.Background(), ride.CancelCommand{
		RideID: rideID,
		Reason: ride.ReasonUserCancel,
		Actor:  ride.ActorPassenger,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	env.events.await(t, notify.KindRideCancelled, "d1")
	waitFor(t, 2*time.Second, func() bool {
		return !env.sched.Timers().ActiveForDriver("d1")
	}, "cancellation must retire the offer timer")
}
