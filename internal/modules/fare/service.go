// README: Fare quotes: route lookup, tariff resolution, surge and calculation.
package fare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ridehail/internal/maps"
	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

var ErrRouteUnavailable = errors.New("route unavailable")

type QuoteRequest struct {
	PickupCoords       types.Point
	DestinationCoords  types.Point
	DestinationAddress string
	Category           ride.Category
}

type Quote struct {
	Category        ride.Category `json:"category"`
	Fare            types.Money   `json:"fare"`
	DistanceKm      float64       `json:"distanceKm"`
	DurationMinutes float64       `json:"durationMinutes"`
	Surge           bool          `json:"surge"`
	Geometry        string        `json:"geometry,omitempty"`
}

type Service struct {
	routes   maps.Gateway
	tariffs  *TariffBook
	surge    SurgeSignal
	currency string
	log      *slog.Logger
}

func NewService(routes maps.Gateway, tariffs *TariffBook, surge SurgeSignal, currency string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{routes: routes, tariffs: tariffs, surge: surge, currency: currency, log: log}
}

// Quote prices one category.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if !req.Category.Valid() {
		return Quote{}, fmt.Errorf("%w: unknown category %q", ride.ErrValidation, req.Category)
	}
	route, err := s.route(ctx, req)
	if err != nil {
		return Quote{}, err
	}
	return s.price(ctx, req, route, req.Category)
}

// QuoteAll prices every category over a single route lookup.
func (s *Service) QuoteAll(ctx context.Context, req QuoteRequest) ([]Quote, error) {
	route, err := s.route(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]Quote, 0, len(ride.Categories))
	for _, c := range ride.Categories {
		q, err := s.price(ctx, req, route, c)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *Service) route(ctx context.Context, req QuoteRequest) (*maps.Route, error) {
	if !req.PickupCoords.Valid() || !req.DestinationCoords.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", ride.ErrValidation)
	}
	route, err := s.routes.Route(ctx, req.PickupCoords, req.DestinationCoords)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}
	return route, nil
}

func (s *Service) price(ctx context.Context, req QuoteRequest, route *maps.Route, category ride.Category) (Quote, error) {
	tariff, err := s.tariffs.Tariff(ctx, category)
	if err != nil {
		return Quote{}, err
	}
	surge := false
	if s.surge != nil {
		surge, err = s.surge.Active(ctx, SurgeQuery{
			Category:           category,
			DestinationAddress: req.DestinationAddress,
			DestinationCoords:  req.DestinationCoords,
		})
		if err != nil {
			s.log.Warn("surge signal unavailable, quoting without surge", "error", err)
			surge = false
		}
	}
	amount := Calculate(Input{
		DistanceKm:      route.DistanceKm(),
		DurationMinutes: route.DurationMinutes(),
		Category:        category,
		Tariff:          tariff,
		SurgeActive:     surge,
	})
	return Quote{
		Category:        category,
		Fare:            types.MoneyFromFloat(amount, s.currency),
		DistanceKm:      route.DistanceKm(),
		DurationMinutes: route.DurationMinutes(),
		Surge:           surge,
		Geometry:        route.Geometry,
	}, nil
}
