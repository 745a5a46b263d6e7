// README: Route estimation: Google Maps client plus a haversine fallback.
package fare

import (
	"context"
	"fmt"
	"math"
	"time"

	"googlemaps.github.io/maps"

	"farebid/internal/types"
)

// RouteSource returns driving distance and duration between two points.
type RouteSource interface {
	Estimate(ctx context.Context, origin, dest types.Point) (distanceKm float64, duration time.Duration, err error)
}

// GoogleRoutes estimates via the Directions API.
type GoogleRoutes struct {
	client *maps.Client
}

func NewGoogleRoutes(apiKey string) (*GoogleRoutes, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &GoogleRoutes{client: client}, nil
}

func (g *GoogleRoutes) Estimate(ctx context.Context, origin, dest types.Point) (float64, time.Duration, error) {
	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", origin.Lat, origin.Lng),
		Destination: fmt.Sprintf("%f,%f", dest.Lat, dest.Lng),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return 0, 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, 0, fmt.Errorf("no route found")
	}
	leg := routes[0].Legs[0]
	return float64(leg.Distance.Meters) / 1000.0, leg.Duration, nil
}

// StaticRoutes estimates great-circle distance at a fixed average speed. Used
// when no Maps key is configured, and by tests.
type StaticRoutes struct {
	SpeedKmh float64
}

func (s StaticRoutes) Estimate(_ context.Context, origin, dest types.Point) (float64, time.Duration, error) {
	speed := s.SpeedKmh
	if speed <= 0 {
		speed = 30
	}
	km := haversineKm(origin, dest)
	return km, time.Duration(km / speed * float64(time.Hour)), nil
}

func haversineKm(a, b types.Point) float64 {
	const r = 6371.0
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dlat := (b.Lat - a.Lat) * math.Pi / 180.0
	dlng := (b.Lng - a.Lng) * math.Pi / 180.0
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * r * math.Asin(math.Sqrt(h))
}
