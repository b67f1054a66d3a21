// README: Trip request aggregate and status definitions.
package registry

import (
	"strings"

	"ridesync/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus normalises any casing ("PENDING") to the canonical lower-case status.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return s, true
	}
	return "", false
}

func (s Status) Open() bool {
	return s == StatusPending || s == StatusAccepted
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AllowedTransitions represents the request state flow as code. Accepting goes through
// Service.AcceptRequest because it also assigns the driver.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCompleted, StatusCancelled},
	StatusAccepted: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Party struct {
	ID   types.ID `json:"id"`
	Name string   `json:"name"`
}

type Place struct {
	Name        string      `json:"name"`
	Coordinates types.Point `json:"coordinates"`
}

type Request struct {
	ID          types.ID    `json:"id"`
	Customer    Party       `json:"customer"`
	Pickup      Place       `json:"pickup"`
	Destination Place       `json:"destination"`
	Fare        types.Money `json:"fare"`
	Timestamp   int64       `json:"timestamp"`
	Status      Status      `json:"status"`
	DriverID    *types.ID   `json:"driverId"`
	DriverName  string      `json:"driverName,omitempty"`
	Version     int         `json:"version"`
}

func (r *Request) Assigned() bool {
	return r.DriverID != nil && *r.DriverID != ""
}

func (r *Request) DrivenBy(id types.ID) bool {
	return r.Assigned() && *r.DriverID == id
}

// Involves reports whether the user is the customer or the assigned driver.
func (r *Request) Involves(id types.ID) bool {
	return r.Customer.ID == id || r.DrivenBy(id)
}

// Claimable is the driver-facing "pending and unassigned" view.
func (r *Request) Claimable() bool {
	return r.Status == StatusPending && !r.Assigned()
}
