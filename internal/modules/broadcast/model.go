// README: Broadcast event shape shared by the trip and location producers.
package broadcast

import (
	"encoding/json"

	"ridesync/internal/types"
)

type Type string

const (
	TypeTripUpdate       Type = "TRIP_UPDATE"
	TypeTripCreated      Type = "TRIP_CREATED"
	TypeTripAccepted     Type = "TRIP_ACCEPTED"
	TypeTripStatus       Type = "TRIP_STATUS_CHANGED"
	TypeTripCancelled    Type = "TRIP_CANCELLED"
	TypeDriverLocation   Type = "DRIVER_LOCATION_UPDATE"
	TypeCustomerLocation Type = "CUSTOMER_LOCATION_UPDATE"
)

// Event is one entry of the broadcast log. ID is unique across processes; Seq orders
// entries within a log.
type Event struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Type       Type            `json:"type"`
	TripID     types.ID        `json:"tripId,omitempty"`
	DriverID   types.ID        `json:"driverId,omitempty"`
	CustomerID types.ID        `json:"customerId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// Involves reports whether the user is the customer or the driver of the event.
func (e Event) Involves(userID types.ID) bool {
	return userID != "" && (e.CustomerID == userID || e.DriverID == userID)
}

// Filter selects events for a subscriber. Empty fields match everything.
type Filter struct {
	TripID types.ID
	UserID types.ID
}

func (f Filter) Match(e Event) bool {
	if f.TripID != "" && e.TripID != f.TripID {
		return false
	}
	if f.UserID != "" && !e.Involves(f.UserID) {
		return false
	}
	return true
}
