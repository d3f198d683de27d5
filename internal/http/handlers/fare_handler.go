// README: Fare quote and address search handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/maps"
	"ridehail/internal/modules/fare"
	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

type FareHandler struct {
	fares  *fare.Service
	places maps.Gateway
}

func NewFareHandler(fares *fare.Service, places maps.Gateway) *FareHandler {
	return &FareHandler{fares: fares, places: places}
}

type quoteReq struct {
	PickupCoords       types.Point   `json:"pickupCoords"`
	DestinationCoords  types.Point   `json:"destinationCoords"`
	DestinationAddress string        `json:"destinationAddress"`
	Category           ride.Category `json:"category"`
}

// Quote prices one category, or every category when none is given.
func (h *FareHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	qr := fare.QuoteRequest{
		PickupCoords:       req.PickupCoords,
		DestinationCoords:  req.DestinationCoords,
		DestinationAddress: req.DestinationAddress,
		Category:           req.Category,
	}
	if req.Category == "" {
		quotes, err := h.fares.QuoteAll(c.Request.Context(), qr)
		if err != nil {
			writeRideError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"quotes": quotes})
		return
	}
	q, err := h.fares.Quote(c.Request.Context(), qr)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"quotes": []fare.Quote{q}})
}

func (h *FareHandler) SearchPlaces(c *gin.Context) {
	suggestions, err := h.places.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		if errors.Is(err, maps.ErrEmptyQuery) {
			writeRideError(c, err)
			return
		}
		_ = c.Error(err)
		writeError(c, http.StatusBadGateway, "address search unavailable")
		return
	}
	if suggestions == nil {
		suggestions = []maps.Suggestion{}
	}
	writeJSON(c, http.StatusOK, gin.H{"results": suggestions})
}
