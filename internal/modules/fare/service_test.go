// README: Fare oracle tests: pricing math, coupons, route fallback.
package fare

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"farebid/internal/types"
)

type fixedRoute struct {
	km       float64
	duration time.Duration
}

func (f fixedRoute) Estimate(_ context.Context, _, _ types.Point) (float64, time.Duration, error) {
	return f.km, f.duration, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQuoteEconomy(t *testing.T) {
	svc := NewService(fixedRoute{km: 10, duration: 20 * time.Minute}, NewMemStore(), testLogger())

	q, err := svc.Quote(context.Background(), types.Point{}, types.Point{}, types.TierEconomy, "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	// economy: 250 base + 10km * 120 + 20min * 30 = 2050
	if q.Fare.Amount != 2050 {
		t.Fatalf("expected 2050, got %d", q.Fare.Amount)
	}
	if q.Fare.Currency != "USD" {
		t.Fatalf("expected USD, got %s", q.Fare.Currency)
	}
	if q.Breakdown["base"] != 250 || q.Breakdown["distance"] != 1200 || q.Breakdown["time"] != 600 {
		t.Fatalf("unexpected breakdown: %+v", q.Breakdown)
	}
}

func TestQuoteTierPricing(t *testing.T) {
	svc := NewService(fixedRoute{km: 10, duration: 20 * time.Minute}, NewMemStore(), testLogger())
	ctx := context.Background()

	econ, _ := svc.Quote(ctx, types.Point{}, types.Point{}, types.TierEconomy, "")
	comf, _ := svc.Quote(ctx, types.Point{}, types.Point{}, types.TierComfort, "")
	excl, _ := svc.Quote(ctx, types.Point{}, types.Point{}, types.TierExclusive, "")

	if !(econ.Fare.Amount < comf.Fare.Amount && comf.Fare.Amount < excl.Fare.Amount) {
		t.Fatalf("tier pricing must be monotonic: %d %d %d",
			econ.Fare.Amount, comf.Fare.Amount, excl.Fare.Amount)
	}
}

func TestQuoteWithCoupon(t *testing.T) {
	rates := NewMemStore()
	rates.AddCoupon(Coupon{Code: "SAVE10", PercentOff: 10})
	svc := NewService(fixedRoute{km: 10, duration: 20 * time.Minute}, rates, testLogger())

	q, err := svc.Quote(context.Background(), types.Point{}, types.Point{}, types.TierEconomy, "SAVE10")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Fare.Amount != 1845 {
		t.Fatalf("expected 2050 - 205 = 1845, got %d", q.Fare.Amount)
	}
	if q.Breakdown["coupon_discount"] != -205 {
		t.Fatalf("expected coupon_discount -205, got %d", q.Breakdown["coupon_discount"])
	}
}

func TestQuoteIgnoresUnknownCoupon(t *testing.T) {
	svc := NewService(fixedRoute{km: 10, duration: 20 * time.Minute}, NewMemStore(), testLogger())

	q, err := svc.Quote(context.Background(), types.Point{}, types.Point{}, types.TierEconomy, "NOPE")
	if err != nil {
		t.Fatalf("unknown coupon must not fail the quote: %v", err)
	}
	if q.Fare.Amount != 2050 {
		t.Fatalf("expected undiscounted 2050, got %d", q.Fare.Amount)
	}
}

func TestQuoteUnknownTier(t *testing.T) {
	svc := NewService(fixedRoute{km: 10, duration: 20 * time.Minute}, NewMemStore(), testLogger())
	if _, err := svc.Quote(context.Background(), types.Point{}, types.Point{}, types.Tier("luxury"), ""); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestStaticRoutesHaversine(t *testing.T) {
	// Taipei Main Station to Taipei 101 is roughly 4km as the crow flies.
	origin := types.Point{Lat: 25.0478, Lng: 121.5170}
	dest := types.Point{Lat: 25.0339, Lng: 121.5645}

	km, duration, err := StaticRoutes{SpeedKmh: 30}.Estimate(context.Background(), origin, dest)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if km < 3 || km > 6 {
		t.Fatalf("implausible distance: %.2f km", km)
	}
	expected := time.Duration(km / 30 * float64(time.Hour))
	if duration != expected {
		t.Fatalf("duration %v does not match distance at 30km/h", duration)
	}
}
