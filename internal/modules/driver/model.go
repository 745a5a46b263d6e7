// README: Driver pool records.
package driver

import (
	"time"

	"farebid/internal/types"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusOnRide      Status = "on_ride"
)

// Driver is a matching-pool participant. Tier comes from the linked vehicle
// record. Only the assignment finalizer writes on_ride; the driver client
// owns available/unavailable.
type Driver struct {
	ID          types.ID
	Tier        types.Tier
	Status      Status
	DeviceToken string
	UpdatedAt   time.Time
}
