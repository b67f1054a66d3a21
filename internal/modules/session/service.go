// README: Session service implements the per-actor trip state machine.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ridesync/internal/types"
)

const cleanupTimeout = 10 * time.Second

// Pruner removes registry entries on behalf of a session. Implemented by the request registry.
type Pruner interface {
	// DropOpen removes pending/accepted requests the user owns or drives.
	DropOpen(ctx context.Context, userID types.ID) (int, error)
	// DropClosed removes completed/cancelled requests the user owns or drives.
	DropClosed(ctx context.Context, userID types.ID) (int, error)
}

// Session is the current trip as seen by one actor. All methods are safe for concurrent use.
type Session struct {
	userID types.ID
	pruner Pruner
	log    *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State

	cleanups sync.WaitGroup
}

func newSession(userID types.ID, pruner Pruner, log *slog.Logger, now func() time.Time) *Session {
	return &Session{
		userID: userID,
		pruner: pruner,
		log:    log.With("component", "session", "user_id", userID),
		now:    now,
	}
}

func (s *Session) UserID() types.ID {
	return s.userID
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// StartTrip always succeeds; it overwrites whatever trip was current.
func (s *Session) StartTrip(d Details) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	dur := d.Duration
	if dur <= 0 {
		dur = DefaultTripDuration
	}
	now := s.now()

	s.state = State{
		TripData: TripData{
			IsActive:    true,
			StartTime:   types.Millis(now),
			EndTime:     types.Millis(now.Add(dur)),
			RequestID:   d.RequestID,
			DriverID:    d.DriverID,
			DriverName:  d.DriverName,
			Origin:      d.Origin,
			Destination: d.Destination,
			Fare:        d.Fare,
			Status:      StatusWaiting,
		},
		ActiveTaxiTrip:         true,
		PickupCoordinates:      d.Pickup,
		DestinationCoordinates: d.Dropoff,
	}
	if d.driverAssigned() {
		s.state.DriverFound = true
	} else {
		s.state.IsSearchingDriver = true
		s.state.TripData.DriverID = ""
	}
	s.log.Info("trip started", "request_id", d.RequestID, "driver_found", s.state.DriverFound)
	return s.state.clone()
}

// AssignDriver records the driver on a trip that was still searching.
func (s *Session) AssignDriver(driverID types.ID, driverName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.TripData.IsActive {
		return false
	}
	s.state.TripData.DriverID = driverID
	s.state.TripData.DriverName = driverName
	s.state.IsSearchingDriver = false
	s.state.DriverFound = true
	return true
}

// UpdateTripStatus reports false when there is no active trip.
func (s *Session) UpdateTripStatus(status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.TripData.IsActive {
		return false
	}
	s.state.TripData.Status = status
	if status.Terminal() {
		s.finishLocked()
	}
	s.log.Info("trip status updated", "status", status)
	return true
}

func (s *Session) finishLocked() {
	s.state.TripData.IsActive = false
	s.state.TripData.EndTime = types.Millis(s.now())
	s.state.ActiveTaxiTrip = false
	s.state.IsSearchingDriver = false
	s.state.NeedsNewOrder = true
}

// RemainingTime is clamped at zero and truncated to whole seconds.
func (s *Session) RemainingTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.TripData.IsActive {
		return 0
	}
	left := types.FromMillis(s.state.TripData.EndTime).Sub(s.now())
	if left < 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// CheckTripActive promotes waiting to active once the end time has passed.
func (s *Session) CheckTripActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := &s.state.TripData
	if !td.IsActive {
		return false
	}
	if td.Status == StatusWaiting && !s.now().Before(types.FromMillis(td.EndTime)) {
		td.Status = StatusActive
		s.log.Info("trip promoted to active", "request_id", td.RequestID)
	}
	return true
}

// CancelTrip returns false and changes nothing when no trip is active. The registry
// cleanup runs in the background; its failure is only logged.
func (s *Session) CancelTrip(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.TripData.IsActive {
		return false
	}
	reqID := s.state.TripData.RequestID
	s.state = State{NeedsNewOrder: true}
	s.state.TripData.Status = StatusCancelled
	s.log.Info("trip cancelled", "request_id", reqID, "reason", reason)

	s.cleanup("drop_open", Pruner.DropOpen)
	return true
}

// StartOrderFlow resets to the ready-for-a-new-order baseline and prunes stale requests.
func (s *Session) StartOrderFlow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	s.cleanup("drop_closed", Pruner.DropClosed)
}

// TickSearch advances the display-only search counter while a driver is being sought.
func (s *Session) TickSearch(by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsSearchingDriver {
		s.state.SearchTimeSeconds += int(by / time.Second)
	}
}

// Reset drops all trip state without touching the registry.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
}

// WaitCleanup blocks until background registry cleanups have finished.
func (s *Session) WaitCleanup() {
	s.cleanups.Wait()
}

// cleanup must be called with s.mu held.
func (s *Session) cleanup(op string, fn func(Pruner, context.Context, types.ID) (int, error)) {
	pr := s.pruner
	if pr == nil {
		return
	}
	s.cleanups.Add(1)
	go func() {
		defer s.cleanups.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		n, err := fn(pr, ctx, s.userID)
		if err != nil {
			s.log.Error("registry cleanup failed", "op", op, "err", err)
			return
		}
		s.log.Debug("registry cleanup done", "op", op, "removed", n)
	}()
}
