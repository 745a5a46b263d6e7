// README: Base handler utilities (JSON helpers, error mapping, role checks).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"farebid/internal/http/middleware"
	"farebid/internal/modules/driver"
	"farebid/internal/modules/ride"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeRideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrRideCancelled),
		errors.Is(err, ride.ErrRideTaken),
		errors.Is(err, ride.ErrInvalidState),
		errors.Is(err, ride.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// requireDriver checks the role claim and that the caller acts as themselves.
func requireDriver(c *gin.Context, driverID string) bool {
	if middleware.Role(c) != "driver" {
		writeError(c, http.StatusForbidden, "driver role required")
		return false
	}
	if driverID == "" || driverID != middleware.UID(c) {
		writeError(c, http.StatusForbidden, "driver_id does not match caller")
		return false
	}
	return true
}

// requireSelf checks the caller acts on their own behalf (passenger paths).
func requireSelf(c *gin.Context, userID string) bool {
	if userID == "" || userID != middleware.UID(c) {
		writeError(c, http.StatusForbidden, "caller mismatch")
		return false
	}
	return true
}
