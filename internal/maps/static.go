// README: Offline gateway (haversine distance, fixed gazetteer) for local runs without an API key.
package maps

import (
	"context"
	"math"
	"strings"

	"ridehail/internal/types"
)

const defaultAverageSpeedKmh = 30.0

// StaticGateway answers searches from a fixed place list and estimates
// routes from straight-line distance at an average urban speed.
type StaticGateway struct {
	places   []Suggestion
	speedKmh float64
}

func NewStaticGateway(places []Suggestion, averageSpeedKmh float64) *StaticGateway {
	if averageSpeedKmh <= 0 {
		averageSpeedKmh = defaultAverageSpeedKmh
	}
	return &StaticGateway{places: places, speedKmh: averageSpeedKmh}
}

func (g *StaticGateway) Search(_ context.Context, text string) ([]Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	var out []Suggestion
	for _, p := range g.places {
		if containsIgnoreCase(p.DisplayName, text) {
			out = append(out, p)
		}
		if len(out) >= maxSuggestions {
			break
		}
	}
	return out, nil
}

func (g *StaticGateway) Route(_ context.Context, origin, dest types.Point) (*Route, error) {
	if !origin.Valid() || !dest.Valid() {
		return nil, ErrNoRoute
	}
	km := HaversineKm(origin.Lat, origin.Lng, dest.Lat, dest.Lng)
	minutes := km / g.speedKmh * 60
	return &Route{
		DistanceMeters:  int(math.Round(km * 1000)),
		DurationSeconds: int(math.Round(minutes * 60)),
	}, nil
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
