// README: Trip session state of one actor (customer or driver) and its status flow.
package session

import (
	"strings"
	"time"

	"ridesync/internal/types"
)

type Status string

const (
	StatusNone      Status = ""
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts any casing ("COMPLETED", "Completed") and returns the canonical status.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusWaiting, StatusActive, StatusCompleted, StatusCancelled:
		return s, true
	}
	return StatusNone, false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

const (
	// DefaultTripDuration applies when StartTrip is called without a duration.
	DefaultTripDuration = 120 * time.Second

	UnassignedDriverID   = "pending"
	UnassignedDriverName = "Seeking Driver..."
)

// TripData is this actor's projection of the current trip. It is not replicated.
type TripData struct {
	IsActive    bool        `json:"isActive"`
	StartTime   int64       `json:"startTime,omitempty"`
	EndTime     int64       `json:"endTime,omitempty"`
	RequestID   types.ID    `json:"requestId,omitempty"`
	DriverID    types.ID    `json:"driverId,omitempty"`
	DriverName  string      `json:"driverName,omitempty"`
	Origin      string      `json:"origin,omitempty"`
	Destination string      `json:"destination,omitempty"`
	Fare        types.Money `json:"fare"`
	Status      Status      `json:"status"`
}

// State is the full session record including the flags the UI routes on.
type State struct {
	TripData               TripData     `json:"tripData"`
	ActiveTaxiTrip         bool         `json:"activeTaxiTrip"`
	NeedsNewOrder          bool         `json:"needsNewOrder"`
	IsSearchingDriver      bool         `json:"isSearchingDriver"`
	DriverFound            bool         `json:"driverFound"`
	PickupCoordinates      *types.Point `json:"pickupCoordinates,omitempty"`
	DestinationCoordinates *types.Point `json:"destinationCoordinates,omitempty"`
	// SearchTimeSeconds is display-only; nothing cancels a search when it grows.
	SearchTimeSeconds int `json:"searchTimeSeconds"`
}

func (s State) clone() State {
	out := s
	if s.PickupCoordinates != nil {
		p := *s.PickupCoordinates
		out.PickupCoordinates = &p
	}
	if s.DestinationCoordinates != nil {
		p := *s.DestinationCoordinates
		out.DestinationCoordinates = &p
	}
	return out
}

// Details starts a trip. An empty DriverID, "pending", or the "Seeking Driver..." name
// mean no driver has been assigned yet.
type Details struct {
	RequestID   types.ID
	DriverID    types.ID
	DriverName  string
	Origin      string
	Destination string
	Pickup      *types.Point
	Dropoff     *types.Point
	Fare        types.Money
	Duration    time.Duration
}

func (d Details) driverAssigned() bool {
	return d.DriverID != "" && d.DriverID != UnassignedDriverID && d.DriverName != UnassignedDriverName
}
