// README: Driver handlers for the pending list, accept, arrive and complete.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/middleware"
	"ridehail/internal/modules/matching"
	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

type DriverHandler struct {
	feed  *matching.Feed
	rides *ride.Service
}

func NewDriverHandler(feed *matching.Feed, rides *ride.Service) *DriverHandler {
	return &DriverHandler{feed: feed, rides: rides}
}

func (h *DriverHandler) ListAvailable(c *gin.Context) {
	rides, err := h.feed.ListAvailable(c.Request.Context())
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": rides})
}

func (h *DriverHandler) Accept(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	handoff, err := h.feed.Accept(c.Request.Context(), matching.AcceptCommand{
		RideID:   types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, handoff)
}

func (h *DriverHandler) Arrive(c *gin.Context) {
	h.advance(c, h.rides.Arrive)
}

func (h *DriverHandler) Complete(c *gin.Context) {
	h.advance(c, h.rides.Complete)
}

func (h *DriverHandler) advance(c *gin.Context, op func(ctx context.Context, cmd ride.DriverCommand) (*ride.Ride, error)) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := op(c.Request.Context(), ride.DriverCommand{
		RideID:   types.ID(id),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"id": r.ID, "status": r.Status})
}
