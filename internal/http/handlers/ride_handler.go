// README: Passenger ride handlers for request, active ride, history, get and cancel.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/middleware"
	"ridehail/internal/modules/fare"
	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

type RideHandler struct {
	controller *ride.Controller
	rides      *ride.Service
	fares      *fare.Service
}

func NewRideHandler(controller *ride.Controller, rides *ride.Service, fares *fare.Service) *RideHandler {
	return &RideHandler{controller: controller, rides: rides, fares: fares}
}

type createRideReq struct {
	PassengerName      string        `json:"passengerName"`
	PickupAddress      string        `json:"pickupAddress"`
	DestinationAddress string        `json:"destinationAddress"`
	PickupCoords       types.Point   `json:"pickupCoords"`
	DestinationCoords  types.Point   `json:"destinationCoords"`
	Category           ride.Category `json:"category"`
	PaymentMethod      string        `json:"paymentMethod"`
}

// Create prices the trip server-side and requests the ride for the caller.
func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if middleware.CallerRole(c) == "driver" {
		writeError(c, http.StatusForbidden, "forbidden: drivers cannot request rides")
		return
	}
	ctx := c.Request.Context()
	quote, err := h.fares.Quote(ctx, fare.QuoteRequest{
		PickupCoords:       req.PickupCoords,
		DestinationCoords:  req.DestinationCoords,
		DestinationAddress: req.DestinationAddress,
		Category:           req.Category,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	r, err := h.controller.Create(ctx, ride.CreateCommand{
		PassengerID:        types.ID(middleware.CallerUID(c)),
		PassengerName:      req.PassengerName,
		PickupAddress:      req.PickupAddress,
		DestinationAddress: req.DestinationAddress,
		PickupCoords:       req.PickupCoords,
		DestinationCoords:  req.DestinationCoords,
		Fare:               quote.Fare,
		Category:           req.Category,
		PaymentMethod:      ride.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"ride": r, "surge": quote.Surge})
}

// Active resumes the caller's active ride, 204 when there is none.
func (h *RideHandler) Active(c *gin.Context) {
	active, err := h.controller.Resume(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		if errors.Is(err, ride.ErrNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, active)
}

func (h *RideHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rides, err := h.rides.ListHistory(c.Request.Context(), types.ID(middleware.CallerUID(c)), limit)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": rides})
}

// Get is open to the ride's passenger and its assigned driver.
func (h *RideHandler) Get(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRideError(c, err)
		return
	}
	uid := types.ID(middleware.CallerUID(c))
	if r.PassengerID != uid && (r.DriverID == nil || *r.DriverID != uid) {
		writeRideError(c, ride.ErrForbidden)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := rideID(c)
	if !ok {
		return
	}
	var req cancelRideReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	r, err := h.controller.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID:      types.ID(id),
		PassengerID: types.ID(middleware.CallerUID(c)),
		Reason:      req.Reason,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
