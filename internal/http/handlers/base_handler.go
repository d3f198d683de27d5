// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/maps"
	"ridehail/internal/modules/fare"
	"ridehail/internal/modules/ride"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts Firestore document ids and UUIDs.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeRideError maps domain errors to statuses. Each kind keeps its own
// message so clients can tell a lost accept race from a stale transition.
func writeRideError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, ride.ErrValidation), errors.Is(err, maps.ErrEmptyQuery):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrNotFound):
		writeError(c, http.StatusNotFound, ride.ErrNotFound.Error())
	case errors.Is(err, ride.ErrForbidden):
		writeError(c, http.StatusForbidden, ride.ErrForbidden.Error())
	case errors.Is(err, ride.ErrNoLongerAvailable):
		writeError(c, http.StatusConflict, "this ride was taken by another driver or cancelled")
	case errors.Is(err, ride.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, fare.ErrRouteUnavailable):
		writeError(c, http.StatusBadGateway, "could not compute a route for this trip")
	case errors.Is(err, ride.ErrPersistence):
		writeError(c, http.StatusServiceUnavailable, "ride storage is temporarily unavailable, please retry")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func rideID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return "", false
	}
	return id, true
}
