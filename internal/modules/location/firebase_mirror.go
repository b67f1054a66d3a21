// README: Firebase RTDB mirror of live positions for clients that listen directly.
package location

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/db"

	"ridesync/internal/modules/identity"
)

const (
	driverNode   = "driver_locations"
	customerNode = "passenger_locations"
)

// rtdbEntry mirrors a single entry under the driver or passenger node.
type rtdbEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Status    string  `json:"status"`
	TripID    string  `json:"trip_id,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// FirebaseMirror writes each record to /driver_locations/{id} or /passenger_locations/{id}.
type FirebaseMirror struct {
	client *db.Client
}

func NewFirebaseMirror(client *db.Client) *FirebaseMirror {
	return &FirebaseMirror{client: client}
}

func (m *FirebaseMirror) Name() string { return "firebase" }

func (m *FirebaseMirror) Sync(ctx context.Context, r Record) error {
	node, entry := toRTDB(r)
	if err := m.client.NewRef(node).Child(string(r.UserID)).Set(ctx, entry); err != nil {
		return fmt.Errorf("mirror %s/%s: %w", node, r.UserID, err)
	}
	return nil
}

func toRTDB(r Record) (string, rtdbEntry) {
	e := rtdbEntry{Lat: r.Latitude, Lng: r.Longitude, TripID: string(r.TripID), Timestamp: r.Timestamp}
	if r.Role == identity.RoleDriver {
		e.Status = "online"
		if r.TripID != "" {
			e.Status = "on_trip"
		}
		return driverNode, e
	}
	e.Status = "looking_for_ride"
	if r.TripID != "" {
		e.Status = "on_trip"
	}
	return customerNode, e
}
