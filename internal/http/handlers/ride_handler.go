// README: Passenger-facing ride handlers: create, inspect, cancel, resolve counter-offers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farebid/internal/modules/ride"
	"farebid/internal/types"
)

type RideHandler struct {
	rides *ride.Service
}

func NewRideHandler(rides *ride.Service) *RideHandler {
	return &RideHandler{rides: rides}
}

type createRideReq struct {
	PassengerID string  `json:"passenger_id"`
	PickupLat   float64 `json:"pickup_lat"`
	PickupLng   float64 `json:"pickup_lng"`
	DropoffLat  float64 `json:"dropoff_lat"`
	DropoffLng  float64 `json:"dropoff_lng"`
	PickupAddr  string  `json:"pickup_addr"`
	DropoffAddr string  `json:"dropoff_addr"`
	Tier        string  `json:"tier"`
	Payment     string  `json:"payment"`
	CouponCode  string  `json:"coupon_code"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !requireSelf(c, req.PassengerID) {
		return
	}
	tier, ok := types.ParseTier(req.Tier)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown tier")
		return
	}
	id, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		PassengerID: types.ID(req.PassengerID),
		Pickup:      types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Dropoff:     types.Point{Lat: req.DropoffLat, Lng: req.DropoffLng},
		PickupAddr:  req.PickupAddr,
		DropoffAddr: req.DropoffAddr,
		Tier:        tier,
		Payment:     req.Payment,
		CouponCode:  req.CouponCode,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"ride_id": id, "status": ride.StatusSearching})
}

func (h *RideHandler) Get(c *gin.Context) {
	r, ok := h.loadOwnRide(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, rideView(r))
}

func (h *RideHandler) Cancel(c *gin.Context) {
	r, ok := h.loadOwnRide(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = ride.ReasonUserCancel
	}
	err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID: r.ID,
		Reason: req.Reason,
		Actor:  ride.ActorPassenger,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": ride.StatusCancelled})
}

func (h *RideHandler) AcceptCounter(c *gin.Context) {
	r, ok := h.loadOwnRide(c)
	if !ok {
		return
	}
	err := h.rides.ResolveCounterAccept(c.Request.Context(), ride.ResolveCounterCommand{RideID: r.ID})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": ride.StatusAccepted})
}

func (h *RideHandler) RejectCounter(c *gin.Context) {
	r, ok := h.loadOwnRide(c)
	if !ok {
		return
	}
	err := h.rides.ResolveCounterReject(c.Request.Context(), ride.ResolveCounterCommand{RideID: r.ID})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": ride.StatusCancelled})
}

func (h *RideHandler) loadOwnRide(c *gin.Context) (*ride.Ride, bool) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing ride id")
		return nil, false
	}
	r, err := h.rides.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRideError(c, err)
		return nil, false
	}
	if !requireSelf(c, string(r.PassengerID)) {
		return nil, false
	}
	return r, true
}

func rideView(r *ride.Ride) gin.H {
	v := gin.H{
		"ride_id":   r.ID,
		"status":    r.Status,
		"tier":      r.Tier,
		"fare":      r.Fare,
		"breakdown": r.Breakdown,
	}
	if r.OriginalFare != nil {
		v["original_fare"] = *r.OriginalFare
	}
	if r.DriverID != nil {
		v["driver_id"] = *r.DriverID
	}
	if r.OfferedTo != nil {
		v["offered_to"] = *r.OfferedTo
	}
	if r.CancelReason != nil {
		v["cancellation_reason"] = *r.CancelReason
		v["cancelled_by"] = *r.CancelledBy
	}
	return v
}
