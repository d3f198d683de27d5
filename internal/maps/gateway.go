// README: Geocoding gateway contract (address search + driving routes).
package maps

import (
	"context"
	"errors"

	"ridehail/internal/types"
)

var (
	ErrNoRoute    = errors.New("no route found")
	ErrEmptyQuery = errors.New("empty search query")
)

// Suggestion is an address candidate returned by Search.
type Suggestion struct {
	DisplayName string      `json:"displayName"`
	Coords      types.Point `json:"coords"`
	PlaceID     string      `json:"placeId,omitempty"`
}

// Route is a driving route between two coordinates.
type Route struct {
	DistanceMeters  int    `json:"distanceMeters"`
	DurationSeconds int    `json:"durationSeconds"`
	Geometry        string `json:"geometry,omitempty"` // encoded polyline
}

func (r Route) DistanceKm() float64 {
	return float64(r.DistanceMeters) / 1000
}

func (r Route) DurationMinutes() float64 {
	return float64(r.DurationSeconds) / 60
}

type Gateway interface {
	Search(ctx context.Context, text string) ([]Suggestion, error)
	Route(ctx context.Context, origin, dest types.Point) (*Route, error)
}
