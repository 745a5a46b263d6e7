// README: Versioned ride store interface and the PostgreSQL implementation.
package ride

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"farebid/internal/types"
)

// Store is the durable, versioned ride record store. Every mutating method is
// a conditional update guarded by the caller's last-read status_version; a
// false return means the precondition no longer held (lost race).
type Store interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	ListSearching(ctx context.Context) ([]*Ride, error)

	ClaimOffer(ctx context.Context, id types.ID, version int, driverID types.ID, at time.Time) (bool, error)
	ReleaseOffer(ctx context.Context, id types.ID, version int, driverID types.ID) (bool, error)
	SetCounterOffer(ctx context.Context, id types.ID, version int, driverID types.ID, fare, originalFare types.Money) (bool, error)
	WithdrawCounterOffer(ctx context.Context, id types.ID, version int, restored types.Money) (bool, error)
	BindDriver(ctx context.Context, id types.ID, version int, driverID types.ID, fare types.Money) (bool, error)
	UpdateStatus(ctx context.Context, id types.ID, version int, from, to Status) (bool, error)
	SetCancelled(ctx context.Context, id types.ID, version int, reason, actor string) (bool, error)

	AppendEvent(ctx context.Context, e *Event) error
}

var ErrNotFound = errors.New("ride no longer exists")

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, r *Ride) error {
	breakdown, err := json.Marshal(r.Breakdown)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO rides (
            id, passenger_id, status, status_version,
            pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
            pickup_addr, dropoff_addr, tier, payment, coupon_code,
            fare_amount, fare_currency, breakdown, distance_km, duration_sec,
            rejected_by, created_at
        ) VALUES (
            $1, $2, $3, $4,
            $5, $6, $7, $8,
            $9, $10, $11, $12, $13,
            $14, $15, $16, $17, $18,
            '{}', $19
        )`,
		string(r.ID), string(r.PassengerID), string(r.Status), r.StatusVersion,
		r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng,
		r.PickupAddr, r.DropoffAddr, string(r.Tier), r.Payment, r.CouponCode,
		r.Fare.Amount, r.Fare.Currency, breakdown, r.DistanceKm, int64(r.Duration.Seconds()),
		r.CreatedAt,
	)
	return err
}

const rideColumns = `
        id, passenger_id, driver_id, status, status_version,
        pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
        pickup_addr, dropoff_addr, tier, payment, coupon_code,
        fare_amount, fare_currency, original_fare_amount, breakdown,
        distance_km, duration_sec, offered_to, offered_to_at, rejected_by,
        cancellation_reason, cancelled_by,
        created_at, accepted_at, cancelled_at, completed_at`

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	return scanRide(row)
}

func (s *PGStore) ListSearching(ctx context.Context) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+rideColumns+`
        FROM rides
        WHERE status = 'searching'
        ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClaimOffer binds the offer projection to the driver. The version guard
// serializes racing claims: only the first conditional update lands.
func (s *PGStore) ClaimOffer(ctx context.Context, id types.ID, version int, driverID types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET offered_to = $1,
            offered_to_at = $2,
            status_version = status_version + 1
        WHERE id = $3 AND status = 'searching' AND status_version = $4`,
		string(driverID), at, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseOffer appends the driver to rejected_by and clears the offer if the
// driver still holds it. The append is de-duplicated.
func (s *PGStore) ReleaseOffer(ctx context.Context, id types.ID, version int, driverID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET rejected_by = CASE WHEN $1 = ANY(rejected_by) THEN rejected_by
                               ELSE array_append(rejected_by, $1) END,
            offered_to = CASE WHEN offered_to = $1 THEN NULL ELSE offered_to END,
            offered_to_at = CASE WHEN offered_to = $1 THEN NULL ELSE offered_to_at END,
            status_version = status_version + 1
        WHERE id = $2 AND status = 'searching' AND status_version = $3`,
		string(driverID), string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetCounterOffer(ctx context.Context, id types.ID, version int, driverID types.ID, fare, originalFare types.Money) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET status = 'counter_offered',
            fare_amount = $1,
            original_fare_amount = COALESCE(original_fare_amount, $2),
            offered_to = $3,
            offered_to_at = NOW(),
            status_version = status_version + 1
        WHERE id = $4 AND status IN ('searching', 'counter_offered') AND status_version = $5`,
		fare.Amount, originalFare.Amount, string(driverID), string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) WithdrawCounterOffer(ctx context.Context, id types.ID, version int, restored types.Money) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET status = 'searching',
            fare_amount = $1,
            original_fare_amount = NULL,
            offered_to = NULL,
            offered_to_at = NULL,
            status_version = status_version + 1
        WHERE id = $2 AND status = 'counter_offered' AND status_version = $3`,
		restored.Amount, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// BindDriver finalizes the assignment: a ride entering accepted atomically
// clears the offer projection.
func (s *PGStore) BindDriver(ctx context.Context, id types.ID, version int, driverID types.ID, fare types.Money) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET status = 'accepted',
            driver_id = $1,
            fare_amount = $2,
            offered_to = NULL,
            offered_to_at = NULL,
            accepted_at = NOW(),
            status_version = status_version + 1
        WHERE id = $3 AND status IN ('searching', 'counter_offered') AND status_version = $4`,
		string(driverID), fare.Amount, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, version int, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET status = $1,
            completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
            status_version = status_version + 1
        WHERE id = $2 AND status = $3 AND status_version = $4`,
		string(to), string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetCancelled(ctx context.Context, id types.ID, version int, reason, actor string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET status = 'cancelled',
            cancellation_reason = $1,
            cancelled_by = $2,
            offered_to = NULL,
            offered_to_at = NULL,
            cancelled_at = NOW(),
            status_version = status_version + 1
        WHERE id = $3 AND status NOT IN ('completed', 'cancelled') AND status_version = $4`,
		reason, actor, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	var actorID *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actorID = &v
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO ride_state_events (
            ride_id, from_status, to_status, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, actorID, e.CreatedAt,
	)
	return err
}

func scanRide(row pgx.Row) (*Ride, error) {
	var (
		r            Ride
		driverID     *string
		tier         string
		originalFare *int64
		breakdown    []byte
		durationSec  int64
		offeredTo    *string
		rejectedBy   []string
	)
	err := row.Scan(
		&r.ID, &r.PassengerID, &driverID, &r.Status, &r.StatusVersion,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng,
		&r.PickupAddr, &r.DropoffAddr, &tier, &r.Payment, &r.CouponCode,
		&r.Fare.Amount, &r.Fare.Currency, &originalFare, &breakdown,
		&r.DistanceKm, &durationSec, &offeredTo, &r.OfferedAt, &rejectedBy,
		&r.CancelReason, &r.CancelledBy,
		&r.CreatedAt, &r.AcceptedAt, &r.CancelledAt, &r.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Tier = types.Tier(tier)
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	if originalFare != nil {
		r.OriginalFare = &types.Money{Amount: *originalFare, Currency: r.Fare.Currency}
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &r.Breakdown); err != nil {
			return nil, err
		}
	}
	r.Duration = time.Duration(durationSec) * time.Second
	if offeredTo != nil {
		d := types.ID(*offeredTo)
		r.OfferedTo = &d
	}
	for _, d := range rejectedBy {
		r.RejectedBy = append(r.RejectedBy, types.ID(d))
	}
	return &r, nil
}
