// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/handlers"
	"ridehail/internal/http/middleware"
	"ridehail/internal/http/ws"
	"ridehail/internal/infra"
	"ridehail/internal/maps"
	"ridehail/internal/modules/fare"
	"ridehail/internal/modules/matching"
	"ridehail/internal/modules/profile"
	"ridehail/internal/modules/rating"
	"ridehail/internal/modules/ride"
)

type ServerDeps struct {
	Controller *ride.Controller
	Rides      *ride.Service
	Feed       *matching.Feed
	Fares      *fare.Service
	Ratings    *rating.Service
	Places     maps.Gateway
	Hub        *ws.Hub
	Verifier   infra.TokenVerifier
	Log        *slog.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	d := s.deps
	r := gin.New()
	r.Use(middleware.Logging(d.Log), middleware.Recovery(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(d.Verifier))

	fareHandler := handlers.NewFareHandler(d.Fares, d.Places)
	api.POST("/fares/quote", fareHandler.Quote)
	api.GET("/places/search", fareHandler.SearchPlaces)

	rideHandler := handlers.NewRideHandler(d.Controller, d.Rides, d.Fares)
	api.POST("/rides", rideHandler.Create)
	api.GET("/rides", rideHandler.History)
	api.GET("/rides/active", rideHandler.Active)
	api.GET("/rides/:id", rideHandler.Get)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)

	ratingHandler := handlers.NewRatingHandler(d.Ratings)
	api.GET("/ratings/pending", ratingHandler.Pending)

	driver := api.Group("/driver", middleware.RequireRole(profile.RoleDriver))
	driverHandler := handlers.NewDriverHandler(d.Feed, d.Rides)
	driver.GET("/rides/pending", driverHandler.ListAvailable)
	driver.POST("/rides/:id/accept", driverHandler.Accept)
	driver.POST("/rides/:id/arrive", driverHandler.Arrive)
	driver.POST("/rides/:id/complete", driverHandler.Complete)

	realtime := handlers.NewRealtimeHandler(d.Hub, d.Feed, d.Controller, d.Log)
	wsGroup := r.Group("/ws", middleware.Auth(d.Verifier))
	wsGroup.GET("/passenger", realtime.Passenger)
	wsGroup.GET("/driver/feed", middleware.RequireRole(profile.RoleDriver), realtime.DriverFeed)

	return r
}
