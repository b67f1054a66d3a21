// README: Google Maps driving routes used to refine ETA estimates.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"ridesync/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// NewClient builds the shared Maps client for route and place lookups.
func NewClient(apiKey string) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// RouteService handles interactions with the Directions API.
type RouteService struct {
	client *maps.Client
}

func NewRouteService(client *maps.Client) *RouteService {
	return &RouteService{client: client}
}

// Route returns the driving duration and distance in meters between two points.
func (s *RouteService) Route(ctx context.Context, from, to types.Point) (time.Duration, float64, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
		Language:    "zh-TW",
		Region:      "TW",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, 0, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return leg.Duration, float64(leg.Distance.Meters), nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
