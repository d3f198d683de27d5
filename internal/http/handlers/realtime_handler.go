// README: Websocket endpoints: passenger notices and the driver ride feed.
package handlers

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/middleware"
	"ridehail/internal/http/ws"
	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

type RealtimeHandler struct {
	hub        *ws.Hub
	feed       ws.AvailableSource
	controller *ride.Controller
	log        *slog.Logger
}

func NewRealtimeHandler(hub *ws.Hub, feed ws.AvailableSource, controller *ride.Controller, log *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, feed: feed, controller: controller, log: log}
}

// Passenger streams notices. Connecting also resumes the active ride so a
// reloaded client picks its watch back up.
func (h *RealtimeHandler) Passenger(c *gin.Context) {
	uid := types.ID(middleware.CallerUID(c))
	onReady := func() {
		if _, err := h.controller.Resume(c.Request.Context(), uid); err != nil && !errors.Is(err, ride.ErrNotFound) {
			h.log.Warn("resume on connect failed", "passenger_id", uid, "error", err)
		}
	}
	if err := h.hub.ServePassenger(c.Writer, c.Request, uid, onReady); err != nil {
		h.log.Warn("passenger websocket upgrade failed", "passenger_id", uid, "error", err)
	}
}

func (h *RealtimeHandler) DriverFeed(c *gin.Context) {
	if err := ws.ServeFeed(c.Writer, c.Request, h.feed, h.log); err != nil {
		h.log.Warn("driver feed websocket failed", "driver_id", middleware.CallerUID(c), "error", err)
	}
}
