// README: Google Maps gateway for place search and driving routes.
package maps

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"ridehail/internal/types"
)

const maxSuggestions = 5

// GoogleGateway handles interactions with the Google Maps Geocoding and Directions APIs.
type GoogleGateway struct {
	client   *maps.Client
	region   string
	language string
}

// NewGoogleGateway creates a new GoogleGateway with the given API Key.
func NewGoogleGateway(apiKey, region, language string) (*GoogleGateway, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleGateway{client: client, region: region, language: language}, nil
}

// Search geocodes free text into at most five address candidates.
func (g *GoogleGateway) Search(ctx context.Context, text string) ([]Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  text,
		Region:   g.region,
		Language: g.language,
	})
	if err != nil {
		return nil, fmt.Errorf("geocoding api error: %w", err)
	}

	out := make([]Suggestion, 0, len(results))
	for _, r := range results {
		out = append(out, Suggestion{
			DisplayName: r.FormattedAddress,
			Coords:      types.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
			PlaceID:     r.PlaceID,
		})
		if len(out) >= maxSuggestions {
			break
		}
	}
	return out, nil
}

// Route returns the first driving route; multi-leg routes are summed.
func (g *GoogleGateway) Route(ctx context.Context, origin, dest types.Point) (*Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(dest),
		Mode:        maps.TravelModeDriving,
		Language:    g.language,
		Region:      g.region,
	}

	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("directions api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}

	out := &Route{Geometry: routes[0].OverviewPolyline.Points}
	for _, leg := range routes[0].Legs {
		out.DistanceMeters += leg.Distance.Meters
		out.DurationSeconds += int(leg.Duration.Seconds())
	}
	return out, nil
}

func latLng(p types.Point) string {
	return (&maps.LatLng{Lat: p.Lat, Lng: p.Lng}).String()
}
