// README: Driver-facing handlers: registration, availability, offer responses, trip lifecycle.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"farebid/internal/modules/dispatch"
	"farebid/internal/modules/driver"
	"farebid/internal/modules/ride"
	"farebid/internal/types"
)

type DriverHandler struct {
	rides     *ride.Service
	drivers   *driver.Service
	scheduler *dispatch.Scheduler
}

func NewDriverHandler(rides *ride.Service, drivers *driver.Service, scheduler *dispatch.Scheduler) *DriverHandler {
	return &DriverHandler{rides: rides, drivers: drivers, scheduler: scheduler}
}

type registerDriverReq struct {
	DriverID    string `json:"driver_id"`
	Tier        string `json:"tier"`
	DeviceToken string `json:"device_token"`
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !requireDriver(c, req.DriverID) {
		return
	}
	tier, ok := types.ParseTier(req.Tier)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown tier")
		return
	}
	err := h.drivers.Register(c.Request.Context(), driver.RegisterCommand{
		DriverID:    types.ID(req.DriverID),
		Tier:        tier,
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": req.DriverID, "status": driver.StatusUnavailable})
}

type availabilityReq struct {
	DriverID  string `json:"driver_id"`
	Available bool   `json:"available"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !requireDriver(c, req.DriverID) {
		return
	}
	if err := h.drivers.SetAvailability(c.Request.Context(), types.ID(req.DriverID), req.Available); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"available": req.Available})
}

type driverActionReq struct {
	DriverID string `json:"driver_id"`
}

func (h *DriverHandler) Accept(c *gin.Context) {
	rideID, driverID, ok := h.rideAction(c)
	if !ok {
		return
	}
	err := h.rides.Accept(c.Request.Context(), ride.AcceptCommand{RideID: rideID, DriverID: driverID})
	if err != nil {
		writeRideError(c, err)
		return
	}
	h.scheduler.Timers().Cancel(rideID, driverID)
	writeJSON(c, http.StatusOK, gin.H{"status": ride.StatusAccepted})
}

func (h *DriverHandler) Decline(c *gin.Context) {
	rideID, driverID, ok := h.rideAction(c)
	if !ok {
		return
	}
	if err := h.scheduler.Decline(c.Request.Context(), rideID, driverID); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "declined"})
}

type counterOfferReq struct {
	DriverID string `json:"driver_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (h *DriverHandler) CounterOffer(c *gin.Context) {
	rideID := types.ID(c.Param("id"))
	var req counterOfferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !requireDriver(c, req.DriverID) {
		return
	}
	err := h.rides.CounterOffer(c.Request.Context(), ride.CounterOfferCommand{
		RideID:   rideID,
		DriverID: types.ID(req.DriverID),
		Proposed: types.Money{Amount: req.Amount, Currency: req.Currency},
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": ride.StatusCounterOffered})
}

func (h *DriverHandler) WithdrawCounter(c *gin.Context) {
	rideID, driverID, ok := h.rideAction(c)
	if !ok {
		return
	}
	err := h.rides.WithdrawCounter(c.Request.Context(), ride.WithdrawCounterCommand{RideID: rideID, DriverID: driverID})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": ride.StatusSearching})
}

type draftingReq struct {
	DriverID string `json:"driver_id"`
	On       bool   `json:"on"`
}

// Drafting pauses or resumes the caller's response countdown while they type a
// counter-offer.
func (h *DriverHandler) Drafting(c *gin.Context) {
	rideID := types.ID(c.Param("id"))
	var req draftingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !requireDriver(c, req.DriverID) {
		return
	}
	if !h.scheduler.Timers().SetCountering(rideID, types.ID(req.DriverID), req.On) {
		writeError(c, http.StatusConflict, "no active offer for this driver")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drafting": req.On})
}

func (h *DriverHandler) Arrive(c *gin.Context) {
	h.advance(c, h.rides.Arrive, ride.StatusArrived)
}

func (h *DriverHandler) Start(c *gin.Context) {
	h.advance(c, h.rides.Start, ride.StatusInProgress)
}

func (h *DriverHandler) Complete(c *gin.Context) {
	h.advance(c, h.rides.Complete, ride.StatusCompleted)
}

func (h *DriverHandler) CancelRide(c *gin.Context) {
	rideID, driverID, ok := h.rideAction(c)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), rideID)
	if err != nil {
		writeRideError(c, err)
		return
	}
	if r.DriverID == nil || *r.DriverID != driverID {
		writeError(c, http.StatusForbidden, "driver not bound to this ride")
		return
	}
	err = h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID: rideID,
		Reason: ride.ReasonDriverCancel,
		Actor:  ride.ActorDriver,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": ride.StatusCancelled})
}

func (h *DriverHandler) advance(c *gin.Context, op func(ctx context.Context, cmd ride.AdvanceCommand) error, to ride.Status) {
	rideID, driverID, ok := h.rideAction(c)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), rideID)
	if err != nil {
		writeRideError(c, err)
		return
	}
	if r.DriverID == nil || *r.DriverID != driverID {
		writeError(c, http.StatusForbidden, "driver not bound to this ride")
		return
	}
	if err := op(c.Request.Context(), ride.AdvanceCommand{RideID: rideID}); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": to})
}

// rideAction binds the common {driver_id} body for ride-scoped driver actions.
func (h *DriverHandler) rideAction(c *gin.Context) (types.ID, types.ID, bool) {
	rideID := c.Param("id")
	if rideID == "" {
		writeError(c, http.StatusBadRequest, "missing ride id")
		return "", "", false
	}
	var req driverActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return "", "", false
	}
	if !requireDriver(c, req.DriverID) {
		return "", "", false
	}
	return types.ID(rideID), types.ID(req.DriverID), true
}
