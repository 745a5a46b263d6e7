// README: Fare oracle: turns a route estimate and rate table into a fare breakdown.
package fare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"farebid/internal/modules/ride"
	"farebid/internal/types"
)

// Service implements ride.FareOracle.
type Service struct {
	routes RouteSource
	rates  RateStore
	log    *slog.Logger
}

func NewService(routes RouteSource, rates RateStore, log *slog.Logger) *Service {
	return &Service{routes: routes, rates: rates, log: log}
}

// Quote prices a prospective ride. Unknown coupon codes are ignored rather
// than failing the ride request.
func (s *Service) Quote(ctx context.Context, pickup, dropoff types.Point, tier types.Tier, coupon string) (ride.FareQuote, error) {
	km, duration, err := s.routes.Estimate(ctx, pickup, dropoff)
	if err != nil {
		return ride.FareQuote{}, fmt.Errorf("route estimate: %w", err)
	}
	rate, err := s.rates.GetRate(ctx, tier)
	if err != nil {
		return ride.FareQuote{}, err
	}

	base := rate.BaseFare
	distance := int64(km * float64(rate.PerKm))
	timeComp := int64(duration.Minutes() * float64(rate.PerMin))
	total := base + distance + timeComp

	breakdown := map[string]int64{
		"base":     base,
		"distance": distance,
		"time":     timeComp,
	}

	if coupon != "" {
		c, err := s.rates.GetCoupon(ctx, coupon)
		switch {
		case err == nil:
			discount := total * c.PercentOff / 100
			breakdown["coupon_discount"] = -discount
			total -= discount
		case errors.Is(err, ErrNoCoupon):
			s.log.Info("fare: ignoring unknown coupon", "code", coupon)
		default:
			return ride.FareQuote{}, err
		}
	}

	return ride.FareQuote{
		Fare:       types.Money{Amount: total, Currency: rate.Currency},
		Breakdown:  breakdown,
		DistanceKm: km,
		Duration:   duration,
	}, nil
}
