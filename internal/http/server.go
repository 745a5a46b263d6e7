// README: HTTP server assembly: middleware chain and route table.
package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"farebid/internal/http/handlers"
	"farebid/internal/http/middleware"
	"farebid/internal/infra"
	"farebid/internal/modules/dispatch"
	"farebid/internal/modules/driver"
	"farebid/internal/modules/ride"
	"farebid/internal/notify"
)

type ServerDeps struct {
	Rides     *ride.Service
	Drivers   *driver.Service
	Scheduler *dispatch.Scheduler
	Hub       *notify.WSHub
	Verifier  infra.TokenVerifier
	Log       *slog.Logger
}

// NewRouter builds the gin engine with the full route table. Metrics and
// health sit outside the auth boundary.
func NewRouter(deps ServerDeps) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.Recovery(deps.Log))
	engine.Use(middleware.Logging(deps.Log))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rideH := handlers.NewRideHandler(deps.Rides)
	driverH := handlers.NewDriverHandler(deps.Rides, deps.Drivers, deps.Scheduler)
	wsH := handlers.NewWSHandler(deps.Hub, deps.Log)

	api := engine.Group("/api", middleware.Auth(deps.Verifier))

	// Passenger surface.
	api.POST("/rides", rideH.Create)
	api.GET("/rides/:id", rideH.Get)
	api.POST("/rides/:id/cancel", rideH.Cancel)
	api.POST("/rides/:id/counter/accept", rideH.AcceptCounter)
	api.POST("/rides/:id/counter/reject", rideH.RejectCounter)

	// Driver surface.
	api.POST("/drivers/register", driverH.Register)
	api.POST("/drivers/availability", driverH.SetAvailability)
	api.POST("/rides/:id/accept", driverH.Accept)
	api.POST("/rides/:id/decline", driverH.Decline)
	api.POST("/rides/:id/counter", driverH.CounterOffer)
	api.POST("/rides/:id/counter/withdraw", driverH.WithdrawCounter)
	api.POST("/rides/:id/drafting", driverH.Drafting)
	api.POST("/rides/:id/arrive", driverH.Arrive)
	api.POST("/rides/:id/start", driverH.Start)
	api.POST("/rides/:id/complete", driverH.Complete)
	api.POST("/rides/:id/driver-cancel", driverH.CancelRide)

	api.GET("/stream", wsH.Stream)

	return engine
}
