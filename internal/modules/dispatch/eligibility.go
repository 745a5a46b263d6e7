// README: Tier eligibility filter for offers.
package dispatch

import "farebid/internal/types"

// CanSee reports whether a driver of driverTier may be offered a ride of
// rideTier. Tiers form a strict containment hierarchy: an economy ride is
// visible to every tier, a comfort ride to comfort and exclusive drivers, an
// exclusive ride to exclusive drivers only. Unknown tiers see nothing.
func CanSee(driverTier, rideTier types.Tier) bool {
	if !driverTier.Valid() || !rideTier.Valid() {
		return false
	}
	return driverTier.Rank() >= rideTier.Rank()
}
