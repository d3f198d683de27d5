// README: Pending post-ride rating prompts for the calling passenger.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/middleware"
	"ridehail/internal/modules/rating"
	"ridehail/internal/types"
)

type RatingHandler struct {
	ratings *rating.Service
}

func NewRatingHandler(ratings *rating.Service) *RatingHandler {
	return &RatingHandler{ratings: ratings}
}

func (h *RatingHandler) Pending(c *gin.Context) {
	prompts, err := h.ratings.Pending(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "rating prompts are unavailable right now")
		return
	}
	if prompts == nil {
		prompts = []rating.Prompt{}
	}
	writeJSON(c, http.StatusOK, prompts)
}
