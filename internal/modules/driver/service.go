// README: Driver availability service.
package driver

import (
	"context"
	"errors"
	"log/slog"

	"farebid/internal/types"
)

var ErrBadRequest = errors.New("bad request")

// AvailabilityListener is told when a driver re-enters the matching pool so
// the dispatcher can run a candidate scan for them immediately.
type AvailabilityListener interface {
	DriverAvailable(ctx context.Context, driverID types.ID)
}

type Service struct {
	store    Store
	listener AvailabilityListener
	log      *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// SetListener wires the dispatcher after construction; both sides depend on
// each other at startup.
func (s *Service) SetListener(l AvailabilityListener) {
	s.listener = l
}

type RegisterCommand struct {
	DriverID    types.ID
	Tier        types.Tier
	DeviceToken string
}

// Register records the driver and its vehicle tier, starting unavailable.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) error {
	if cmd.DriverID == "" || !cmd.Tier.Valid() {
		return ErrBadRequest
	}
	return s.store.Upsert(ctx, &Driver{
		ID:          cmd.DriverID,
		Tier:        cmd.Tier,
		Status:      StatusUnavailable,
		DeviceToken: cmd.DeviceToken,
	})
}

// SetAvailability toggles the driver in or out of the matching pool.
func (s *Service) SetAvailability(ctx context.Context, driverID types.ID, available bool) error {
	status := StatusUnavailable
	if available {
		status = StatusAvailable
	}
	if err := s.store.SetStatus(ctx, driverID, status); err != nil {
		return err
	}
	if available && s.listener != nil {
		s.listener.DriverAvailable(ctx, driverID)
	}
	return nil
}

// MarkOnRide is the assignment finalizer's write; nothing else sets on_ride.
func (s *Service) MarkOnRide(ctx context.Context, driverID types.ID) error {
	return s.store.SetStatus(ctx, driverID, StatusOnRide)
}

// DeviceToken resolves a recipient's push token through the registry.
// Recipients outside it (passengers) resolve to no token.
func (s *Service) DeviceToken(ctx context.Context, id types.ID) (string, error) {
	d, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return d.DeviceToken, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListAvailable(ctx context.Context) ([]*Driver, error) {
	return s.store.ListAvailable(ctx)
}
