// README: Ride aggregate, status machine, and cancellation vocabulary.
package ride

import (
	"time"

	"farebid/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusSearching      Status = "searching"
	StatusCounterOffered Status = "counter_offered"
	StatusAccepted       Status = "accepted"
	StatusArrived        Status = "arrived"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

const (
	ActorPassenger = "passenger"
	ActorDriver    = "driver"
	ActorSystem    = "system"
)

// Cancellation reason codes.
const (
	ReasonUserCancel           = "user_cancel"
	ReasonDriverCancel         = "driver_cancel"
	ReasonCounterOfferRejected = "counter_offer_rejected"
	ReasonSearchTimeout        = "search_timeout"
)

type Ride struct {
	ID            types.ID
	PassengerID   types.ID
	DriverID      *types.ID
	Status        Status
	StatusVersion int

	Pickup      types.Point
	Dropoff     types.Point
	PickupAddr  string
	DropoffAddr string
	Tier        types.Tier
	Payment     string
	CouponCode  string

	// Fare is the current fare; OriginalFare is snapshotted once when a
	// counter-offer first overwrites it, so a withdrawal can restore it.
	Fare         types.Money
	OriginalFare *types.Money
	Breakdown    map[string]int64
	DistanceKm   float64
	Duration     time.Duration

	// OfferedTo/OfferedAt are the transient offer projection. RejectedBy is
	// append-only for the ride's lifetime.
	OfferedTo  *types.ID
	OfferedAt  *time.Time
	RejectedBy []types.ID

	CancelReason *string
	CancelledBy  *string

	CreatedAt   time.Time
	AcceptedAt  *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}

// HasOpenOffer reports whether the ride carries an offer younger than
// staleAfter. Offers older than that are treated as abandoned even if never
// formally cleared.
func (r *Ride) HasOpenOffer(now time.Time, staleAfter time.Duration) bool {
	if r.OfferedTo == nil || r.OfferedAt == nil {
		return false
	}
	return now.Sub(*r.OfferedAt) < staleAfter
}

func (r *Ride) HasRejected(driverID types.ID) bool {
	for _, id := range r.RejectedBy {
		if id == driverID {
			return true
		}
	}
	return false
}

func (r *Ride) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}

type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the ride state flow as code. An offer does not
// change the status; it only populates the offer projection while the ride
// stays in searching.
var AllowedTransitions = map[Status][]Status{
	StatusSearching:      {StatusCounterOffered, StatusAccepted, StatusCancelled},
	StatusCounterOffered: {StatusAccepted, StatusSearching, StatusCancelled},
	StatusAccepted:       {StatusArrived, StatusCancelled},
	StatusArrived:        {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
