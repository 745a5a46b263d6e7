// README: Ride service: creation, offer claims, negotiation protocol, and assignment finalizer.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"farebid/internal/observability"
	"farebid/internal/types"
)

var (
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("ride state conflict")
	ErrInvalidState  = errors.New("invalid state transition")
	ErrRideCancelled = errors.New("ride was cancelled")
	ErrRideTaken     = errors.New("ride already taken by another driver")
)

// FareQuote is the fare oracle's answer for a prospective ride.
type FareQuote struct {
	Fare       types.Money
	Breakdown  map[string]int64
	DistanceKm float64
	Duration   time.Duration
}

// FareOracle is the external route/fare collaborator consulted at creation.
type FareOracle interface {
	Quote(ctx context.Context, pickup, dropoff types.Point, tier types.Tier, coupon string) (FareQuote, error)
}

// DriverPool is the slice of the driver module the finalizer needs: flipping
// the bound driver to on-ride.
type DriverPool interface {
	MarkOnRide(ctx context.Context, driverID types.ID) error
}

type Service struct {
	store      Store
	feed       Feed
	drivers    DriverPool
	oracle     FareOracle
	staleAfter time.Duration
	log        *slog.Logger
}

func NewService(store Store, feed Feed, drivers DriverPool, oracle FareOracle, staleAfter time.Duration, log *slog.Logger) *Service {
	return &Service{store: store, feed: feed, drivers: drivers, oracle: oracle, staleAfter: staleAfter, log: log}
}

type CreateCommand struct {
	PassengerID types.ID
	Pickup      types.Point
	Dropoff     types.Point
	PickupAddr  string
	DropoffAddr string
	Tier        types.Tier
	Payment     string
	CouponCode  string
}

type ClaimCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type AcceptCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type RejectCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CounterOfferCommand struct {
	RideID   types.ID
	DriverID types.ID
	Proposed types.Money
}

type WithdrawCounterCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type ResolveCounterCommand struct {
	RideID types.ID
}

type CancelCommand struct {
	RideID types.ID
	Reason string
	Actor  string
}

type AdvanceCommand struct {
	RideID types.ID
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.PassengerID == "" || !cmd.Tier.Valid() {
		return "", ErrBadRequest
	}
	quote, err := s.oracle.Quote(ctx, cmd.Pickup, cmd.Dropoff, cmd.Tier, cmd.CouponCode)
	if err != nil {
		return "", fmt.Errorf("fare quote: %w", err)
	}

	id := types.ID(uuid.NewString())
	now := time.Now()
	r := &Ride{
		ID:          id,
		PassengerID: cmd.PassengerID,
		Status:      StatusSearching,
		Pickup:      cmd.Pickup,
		Dropoff:     cmd.Dropoff,
		PickupAddr:  cmd.PickupAddr,
		DropoffAddr: cmd.DropoffAddr,
		Tier:        cmd.Tier,
		Payment:     cmd.Payment,
		CouponCode:  cmd.CouponCode,
		Fare:        quote.Fare,
		Breakdown:   quote.Breakdown,
		DistanceKm:  quote.DistanceKm,
		Duration:    quote.Duration,
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return "", err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		RideID: id, FromStatus: StatusNone, ToStatus: StatusSearching,
		ActorType: ActorPassenger, ActorID: &cmd.PassengerID, CreatedAt: now,
	})
	s.feed.Publish(ctx, Change{RideID: id, Status: StatusSearching, At: now})
	return id, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	return s.store.Get(ctx, id)
}

// ListSearching returns matchable rides in creation order.
func (s *Service) ListSearching(ctx context.Context) ([]*Ride, error) {
	return s.store.ListSearching(ctx)
}

// StaleOfferAfter is the age beyond which an uncleared offer no longer blocks
// re-offering.
func (s *Service) StaleOfferAfter() time.Duration {
	return s.staleAfter
}

// Claim attempts to bind an open offer to the driver. It returns false without
// error when the ride is no longer claimable or another claim won: lost races
// are an expected outcome, not a failure.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (bool, error) {
	r, err := s.store.Get(ctx, cmd.RideID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := time.Now()
	if r.Status != StatusSearching || r.HasRejected(cmd.DriverID) || r.HasOpenOffer(now, s.staleAfter) {
		return false, nil
	}
	ok, err := s.store.ClaimOffer(ctx, r.ID, r.StatusVersion, cmd.DriverID, now)
	if err != nil {
		return false, err
	}
	if !ok {
		observability.OffersLostRace.Inc()
		return false, nil
	}
	observability.OffersTotal.Inc()
	d := cmd.DriverID
	s.feed.Publish(ctx, Change{RideID: r.ID, Status: StatusSearching, OfferedTo: &d, At: now})
	return true, nil
}

// Accept is the direct, non-counter acceptance path: the driver takes the ride
// at its current fare and becomes bound to it.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) error {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if err := offerable(r, cmd.DriverID); err != nil {
		return err
	}
	ok, err := s.store.BindDriver(ctx, r.ID, r.StatusVersion, cmd.DriverID, r.Fare)
	if err != nil {
		return err
	}
	if !ok {
		return s.classifyLostBind(ctx, cmd.RideID, cmd.DriverID)
	}
	s.finalize(ctx, r, cmd.DriverID, ActorDriver)
	return nil
}

// ResolveCounterAccept is the passenger accepting the driver's counter-fare.
func (s *Service) ResolveCounterAccept(ctx context.Context, cmd ResolveCounterCommand) error {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if r.Status == StatusCancelled {
		return ErrRideCancelled
	}
	if r.Status != StatusCounterOffered || r.OfferedTo == nil {
		return ErrInvalidState
	}
	driverID := *r.OfferedTo
	ok, err := s.store.BindDriver(ctx, r.ID, r.StatusVersion, driverID, r.Fare)
	if err != nil {
		return err
	}
	if !ok {
		return s.classifyLostBind(ctx, cmd.RideID, driverID)
	}
	s.finalize(ctx, r, driverID, ActorPassenger)
	return nil
}

// ResolveCounterReject is the passenger declining the counter-fare; it is a
// passenger cancellation with a distinguishing reason code.
func (s *Service) ResolveCounterReject(ctx context.Context, cmd ResolveCounterCommand) error {
	return s.Cancel(ctx, CancelCommand{
		RideID: cmd.RideID,
		Reason: ReasonCounterOfferRejected,
		Actor:  ActorPassenger,
	})
}

// CounterOffer overwrites the fare with the driver's proposal, preserving the
// pre-negotiation fare the first time so a withdrawal can restore it.
func (s *Service) CounterOffer(ctx context.Context, cmd CounterOfferCommand) error {
	if cmd.Proposed.Amount <= 0 {
		return ErrBadRequest
	}
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if err := offerable(r, cmd.DriverID); err != nil {
		return err
	}
	original := r.Fare
	if r.OriginalFare != nil {
		original = *r.OriginalFare
	}
	proposed := cmd.Proposed
	if proposed.Currency == "" {
		proposed.Currency = r.Fare.Currency
	}
	ok, err := s.store.SetCounterOffer(ctx, r.ID, r.StatusVersion, cmd.DriverID, proposed, original)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	observability.CounterOffersTotal.Inc()
	now := time.Now()
	d := cmd.DriverID
	_ = s.store.AppendEvent(ctx, &Event{
		RideID: r.ID, FromStatus: r.Status, ToStatus: StatusCounterOffered,
		ActorType: ActorDriver, ActorID: &d, CreatedAt: now,
	})
	s.feed.Publish(ctx, Change{RideID: r.ID, Status: StatusCounterOffered, OfferedTo: &d, At: now})
	return nil
}

// WithdrawCounter is the driver retracting its own counter-offer. The ride is
// still viable, so it returns to searching at the restored fare instead of
// being cancelled.
func (s *Service) WithdrawCounter(ctx context.Context, cmd WithdrawCounterCommand) error {
	r, err := s.store.Get(ctx, cmd.RideID)
	if err != nil {
		return err
	}
	if r.Status == StatusCancelled {
		return ErrRideCancelled
	}
	if r.Status != StatusCounterOffered || r.OfferedTo == nil || *r.OfferedTo != cmd.DriverID {
		return ErrInvalidState
	}
	restored := r.Fare
	if r.OriginalFare != nil {
		restored = *r.OriginalFare
	}
	ok, err := s.store.WithdrawCounterOffer(ctx, r.ID, r.StatusVersion, restored)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	now := time.Now()
	d := cmd.DriverID
	_ = s.store.AppendEvent(ctx, &Event{
		RideID: r.ID, FromStatus: StatusCounterOffered, ToStatus: StatusSearching,
		ActorType: ActorDriver, ActorID: &d, CreatedAt: now,
	})
	s.feed.Publish(ctx, Change{RideID: r.ID, Status: StatusSearching, At: now})
	return nil
}

// Reject records the driver's decline: append to rejectedBy, clear the offer
// if this driver holds it, and re-open the ride for the scheduler. It is safe
// to call twice and degrades to a no-op when the write cannot land; the caller
// keeps its local rejected shadow either way.
func (s *Service) Reject(ctx context.Context, cmd RejectCommand) error {
	for attempt := 0; attempt < 3; attempt++ {
		r, err := s.store.Get(ctx, cmd.RideID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.Status != StatusSearching {
			return nil
		}
		if r.HasRejected(cmd.DriverID) && (r.OfferedTo == nil || *r.OfferedTo != cmd.DriverID) {
			return nil
		}
		ok, err := s.store.ReleaseOffer(ctx, r.ID, r.StatusVersion, cmd.DriverID)
		if err != nil {
			return err
		}
		if ok {
			now := time.Now()
			s.feed.Publish(ctx, Change{RideID: r.ID, Status: StatusSearching, At: now})
			return nil
		}
		// Lost a version race; re-read and re-validate.
	}
	s.log.Warn("reject: giving up after repeated conflicts", "ride_id", cmd.RideID, "driver_id", cmd.DriverID)
	return nil
}

// Cancel moves the ride to cancelled from any non-terminal state. Once issued
// it always wins: version conflicts are retried against the fresh state until
// the ride is terminal.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	if cmd.Reason == "" || cmd.Actor == "" {
		return ErrBadRequest
	}
	for {
		r, err := s.store.Get(ctx, cmd.RideID)
		if err != nil {
			return err
		}
		if r.Status == StatusCancelled {
			return nil
		}
		if r.Status == StatusCompleted {
			return ErrInvalidState
		}
		ok, err := s.store.SetCancelled(ctx, r.ID, r.StatusVersion, cmd.Reason, cmd.Actor)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		observability.CancellationsTotal.WithLabelValues(cmd.Actor).Inc()
		now := time.Now()
		_ = s.store.AppendEvent(ctx, &Event{
			RideID: r.ID, FromStatus: r.Status, ToStatus: StatusCancelled,
			ActorType: cmd.Actor, ActorID: cancelActorID(r, cmd.Actor), CreatedAt: now,
		})
		s.feed.Publish(ctx, Change{RideID: r.ID, Status: StatusCancelled, At: now})
		return nil
	}
}

func (s *Service) Arrive(ctx context.Context, cmd AdvanceCommand) error {
	return s.advance(ctx, cmd.RideID, StatusArrived)
}

func (s *Service) Start(ctx context.Context, cmd AdvanceCommand) error {
	return s.advance(ctx, cmd.RideID, StatusInProgress)
}

func (s *Service) Complete(ctx context.Context, cmd AdvanceCommand) error {
	return s.advance(ctx, cmd.RideID, StatusCompleted)
}

func (s *Service) advance(ctx context.Context, id types.ID, to Status) error {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, to) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.StatusVersion, r.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	now := time.Now()
	_ = s.store.AppendEvent(ctx, &Event{
		RideID: r.ID, FromStatus: r.Status, ToStatus: to,
		ActorType: ActorDriver, ActorID: r.DriverID, CreatedAt: now,
	})
	s.feed.Publish(ctx, Change{RideID: r.ID, Status: to, DriverID: r.DriverID, At: now})
	return nil
}

// offerable guards the driver-initiated transitions out of the matchable
// states with the user-facing outcomes of the assignment finalizer.
func offerable(r *Ride, driverID types.ID) error {
	switch r.Status {
	case StatusCancelled:
		return ErrRideCancelled
	case StatusSearching:
		return nil
	case StatusCounterOffered:
		// Only the negotiating driver may act on its own counter-offer.
		if r.OfferedTo != nil && *r.OfferedTo == driverID {
			return nil
		}
		return ErrRideTaken
	default:
		return ErrRideTaken
	}
}

// classifyLostBind turns a failed bind precondition into the user-facing
// outcome after re-reading the winning state.
func (s *Service) classifyLostBind(ctx context.Context, id, driverID types.ID) error {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case r.Status == StatusCancelled:
		return ErrRideCancelled
	case r.DriverID != nil && *r.DriverID != driverID:
		return ErrRideTaken
	case r.Status != StatusSearching && r.Status != StatusCounterOffered:
		return ErrRideTaken
	default:
		return ErrConflict
	}
}

// finalize runs the post-bind bookkeeping: driver flip, metrics, event log,
// feed publish. The driver-pool write is best-effort; a failure degrades to a
// log line rather than unwinding the binding.
func (s *Service) finalize(ctx context.Context, r *Ride, driverID types.ID, actor string) {
	if err := s.drivers.MarkOnRide(ctx, driverID); err != nil {
		s.log.Warn("finalize: mark driver on-ride", "driver_id", driverID, "err", err)
	}
	observability.BindingsTotal.Inc()
	now := time.Now()
	d := driverID
	_ = s.store.AppendEvent(ctx, &Event{
		RideID: r.ID, FromStatus: r.Status, ToStatus: StatusAccepted,
		ActorType: actor, ActorID: &d, CreatedAt: now,
	})
	s.feed.Publish(ctx, Change{RideID: r.ID, Status: StatusAccepted, DriverID: &d, At: now})
}

func cancelActorID(r *Ride, actor string) *types.ID {
	switch actor {
	case ActorPassenger:
		id := r.PassengerID
		return &id
	case ActorDriver:
		if r.DriverID != nil {
			return r.DriverID
		}
		return r.OfferedTo
	}
	return nil
}
