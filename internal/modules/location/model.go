// README: Location samples, ETA results and the collaborator contracts of the location service.
package location

import (
	"context"
	"errors"
	"time"

	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/registry"
	"ridesync/internal/types"
)

var (
	ErrMissingCoordinates = errors.New("latitude and longitude are required")
	ErrMissingUser        = errors.New("user id is required")
	ErrNoDriverLocation   = errors.New("no driver location for trip")
)

// Fix is one raw GPS sample. Latitude and Longitude are pointers so a missing value is
// distinguishable from 0.
type Fix struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// Record is a stored location update. A newer record replaces the previous one.
type Record struct {
	UserID    types.ID      `json:"userId"`
	Role      identity.Role `json:"role"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Timestamp int64         `json:"timestamp"`
	TripID    types.ID      `json:"tripId,omitempty"`
	Speed     *float64      `json:"speed,omitempty"`
	Heading   *float64      `json:"heading,omitempty"`
	Accuracy  *float64      `json:"accuracy,omitempty"`
}

func (r Record) Point() types.Point {
	return types.Point{Lat: r.Latitude, Lng: r.Longitude}
}

// Age is the time since the sample was taken.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(types.FromMillis(r.Timestamp))
}

type TripLocations struct {
	TripID   types.ID `json:"tripId"`
	Driver   *Record  `json:"driver"`
	Customer *Record  `json:"customer"`
}

const (
	TargetPickup      = "pickup"
	TargetDestination = "destination"

	SourceHaversine = "haversine"
	SourceRoute     = "route"
)

type ETA struct {
	TripID            types.ID    `json:"tripId"`
	EtaSeconds        int64       `json:"etaSeconds"`
	DistanceRemaining float64     `json:"distanceRemaining"`
	Target            string      `json:"target"`
	TargetPoint       types.Point `json:"targetCoordinates"`
	Driver            Record      `json:"driverLocation"`
	Source            string      `json:"source"`
}

// Nearby is a driver position with its distance from the queried point.
type Nearby struct {
	Record
	DistanceKm float64 `json:"distanceKm"`
}

// TripReader resolves the trip whose target the ETA is computed against.
type TripReader interface {
	GetRequestByID(ctx context.Context, id types.ID) (*registry.Request, error)
}

// Router optionally refines ETA with a road route (duration, meters).
type Router interface {
	Route(ctx context.Context, from, to types.Point) (time.Duration, float64, error)
}

// Syncer receives every accepted record in the background. Failures are logged only.
type Syncer interface {
	Name() string
	Sync(ctx context.Context, r Record) error
}
