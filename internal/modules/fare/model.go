// README: Fare rate and coupon definitions.
package fare

import "farebid/internal/types"

// Rate prices a service tier: flag fall plus distance and time components,
// amounts in the currency's minor unit.
type Rate struct {
	Tier     types.Tier
	BaseFare int64
	PerKm    int64
	PerMin   int64
	Currency string
}

// Coupon is a percent-off discount code.
type Coupon struct {
	Code       string
	PercentOff int64
}

// DefaultRates back the oracle when no rate row exists for a tier.
var DefaultRates = map[types.Tier]Rate{
	types.TierEconomy:   {Tier: types.TierEconomy, BaseFare: 250, PerKm: 120, PerMin: 30, Currency: "USD"},
	types.TierComfort:   {Tier: types.TierComfort, BaseFare: 400, PerKm: 180, PerMin: 45, Currency: "USD"},
	types.TierExclusive: {Tier: types.TierExclusive, BaseFare: 800, PerKm: 300, PerMin: 80, Currency: "USD"},
}
