// README: Service tiers for rides and drivers.
package types

type Tier string

const (
	TierEconomy   Tier = "economy"
	TierComfort   Tier = "comfort"
	TierExclusive Tier = "exclusive"
)

// Rank orders tiers for containment checks; unknown tiers rank below economy.
func (t Tier) Rank() int {
	switch t {
	case TierEconomy:
		return 1
	case TierComfort:
		return 2
	case TierExclusive:
		return 3
	}
	return 0
}

func (t Tier) Valid() bool {
	return t.Rank() > 0
}

func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	return t, t.Valid()
}
