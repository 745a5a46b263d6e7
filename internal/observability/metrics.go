// README: Prometheus metrics for the dispatch engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farebid", Name: "offers_total", Help: "Offers successfully claimed for a driver"})
	OffersLostRace = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farebid", Name: "offers_lost_race_total", Help: "Offer claims that lost the conditional update"})
	OffersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farebid", Name: "offers_expired_total", Help: "Offers auto-rejected after the response window"})
	CounterOffersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farebid", Name: "counter_offers_total", Help: "Driver counter-offers submitted"})
	BindingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farebid", Name: "bindings_total", Help: "Rides bound to a driver"})
	CancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farebid", Name: "cancellations_total", Help: "Ride cancellations by actor"},
		[]string{"actor"})
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farebid", Name: "notifications_dropped_total", Help: "Notifications dropped because the outbound queue was full"})
)
