// README: Google Places text search used to geocode pickup and destination names.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"ridesync/internal/types"
)

var ErrNoPlace = errors.New("no matching place")

type PlacesService struct {
	client *maps.Client
}

func NewPlacesService(client *maps.Client) *PlacesService {
	return &PlacesService{client: client}
}

// Resolve returns the coordinates and formatted address of the best match for name.
func (s *PlacesService) Resolve(ctx context.Context, name string) (types.Point, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Point{}, "", ErrNoPlace
	}
	resp, err := s.client.TextSearch(ctx, &maps.TextSearchRequest{
		Query:    name,
		Language: "zh-TW",
		Region:   "TW",
	})
	if err != nil {
		return types.Point{}, "", fmt.Errorf("places api error: %w", err)
	}
	if len(resp.Results) == 0 {
		return types.Point{}, "", ErrNoPlace
	}
	best := resp.Results[0]
	loc := best.Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, best.FormattedAddress, nil
}
