// README: Common identifier and geo value objects used across modules.
package types

// ID is an opaque document identifier (ride, driver, passenger).
type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
