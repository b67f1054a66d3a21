// README: Sample trips shown to signed-out users.
package taxi

import (
	"ridesync/internal/modules/registry"
	"ridesync/internal/types"
)

func demoTrips(now int64) []registry.Request {
	return []registry.Request{
		{
			ID:          "demo-trip-1",
			Customer:    registry.Party{ID: "demo-customer-1", Name: "Demo Customer"},
			Pickup:      registry.Place{Name: "Taipei 101", Coordinates: types.Point{Lat: 25.0339, Lng: 121.5645}},
			Destination: registry.Place{Name: "Taipei Main Station", Coordinates: types.Point{Lat: 25.0478, Lng: 121.5170}},
			Fare:        types.NewMoney(250),
			Timestamp:   now,
			Status:      registry.StatusPending,
		},
		{
			ID:          "demo-trip-2",
			Customer:    registry.Party{ID: "demo-customer-2", Name: "Demo Rider"},
			Pickup:      registry.Place{Name: "Songshan Airport", Coordinates: types.Point{Lat: 25.0697, Lng: 121.5525}},
			Destination: registry.Place{Name: "Ximending", Coordinates: types.Point{Lat: 25.0422, Lng: 121.5078}},
			Fare:        types.NewMoney(310),
			Timestamp:   now,
			Status:      registry.StatusPending,
		},
	}
}
