// README: Registry service implements request CRUD, visibility rules and first-accept-wins.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/session"
	"ridesync/internal/observability"
	"ridesync/internal/types"
)

var (
	ErrNotFound     = errors.New("request not found")
	ErrConflict     = errors.New("request state conflict")
	ErrInvalidState = errors.New("invalid state transition")
	ErrBadRequest   = errors.New("bad request")
	ErrDuplicateID  = errors.New("duplicate request id")
	ErrForbidden    = errors.New("request belongs to another user")
	// ErrNotPersisted means the read-after-write check did not observe the new status.
	ErrNotPersisted = errors.New("status change not persisted")
)

const maxIDAttempts = 16

// Sessions hands out the per-actor session that an accept should start.
type Sessions interface {
	Session(userID types.ID) *session.Session
}

type Authenticator interface {
	CurrentUser(ctx context.Context) (identity.User, error)
}

type Service struct {
	store    Store
	sessions Sessions
	auth     Authenticator
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, sessions Sessions, auth Authenticator, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		sessions: sessions,
		auth:     auth,
		log:      log.With("component", "registry"),
		now:      time.Now,
	}
}

type NewRequest struct {
	// ID is optional; a server-assigned id is kept as is.
	ID          types.ID
	Customer    Party
	Pickup      Place
	Destination Place
	Fare        types.Money
}

// GetRequests returns the claimable work: pending and unassigned.
func (s *Service) GetRequests(ctx context.Context) ([]Request, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(all))
	for i := range all {
		if all[i].Claimable() {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// GetAllRequests returns every request to in-process callers and admins. Any other
// caller only sees the requests they are the customer or driver of.
func (s *Service) GetAllRequests(ctx context.Context) ([]Request, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	me, ok := identity.FromContext(ctx)
	if !ok || me.Role == identity.RoleAdmin {
		return all, nil
	}
	out := make([]Request, 0, len(all))
	for i := range all {
		if all[i].Involves(me.ID) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// GetRequestByID is readable by the parties of the request, by any driver while it is
// still claimable, and by admins.
func (s *Service) GetRequestByID(ctx context.Context, id types.ID) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if me, ok := identity.FromContext(ctx); ok && me.Role == identity.RoleDriver && r.Claimable() {
		return r, nil
	}
	if err := s.authorize(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CheckParticipant fails with ErrForbidden when the caller is not a party of the
// request. A request the registry does not know yields ErrNotFound.
func (s *Service) CheckParticipant(ctx context.Context, id types.ID) error {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.authorize(ctx, r)
}

// ClearAllRequests is limited to admins and in-process callers.
func (s *Service) ClearAllRequests(ctx context.Context) error {
	if me, ok := identity.FromContext(ctx); ok && me.Role != identity.RoleAdmin {
		s.log.Warn("security alert: registry clear by non-admin", "user", me.ID, "role", me.Role)
		return ErrForbidden
	}
	return s.store.Clear(ctx)
}

// authorize passes calls without a request-scoped user; those come from in-process
// code such as the simulator or session cleanup.
func (s *Service) authorize(ctx context.Context, r *Request) error {
	me, ok := identity.FromContext(ctx)
	if !ok || me.Role == identity.RoleAdmin || r.Involves(me.ID) {
		return nil
	}
	s.log.Warn("security alert: request access by non-participant", "request_id", r.ID, "user", me.ID)
	return ErrForbidden
}

// GetUserActiveRequest only answers for the authenticated user. A driver sees the trip
// assigned to them; a customer sees their own open request. It returns nil, nil when
// there is nothing active. Asking about another user, or a match the caller does not
// own, returns a nil request together with ErrForbidden.
func (s *Service) GetUserActiveRequest(ctx context.Context, userID types.ID) (*Request, error) {
	me, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if me.ID != userID {
		s.log.Warn("security alert: active request lookup for another user", "requested", userID, "authenticated", me.ID)
		return nil, ErrForbidden
	}

	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var match *Request
	for i := range all {
		r := &all[i]
		if me.Role == identity.RoleDriver {
			if r.Status == StatusAccepted && r.DrivenBy(userID) {
				match = r
				break
			}
			continue
		}
		if r.Customer.ID == userID && r.Status.Open() {
			match = r
			break
		}
	}
	if match == nil {
		return nil, nil
	}

	owned := match.Customer.ID == me.ID
	if me.Role == identity.RoleDriver {
		owned = match.DrivenBy(me.ID)
	}
	if !owned {
		s.log.Warn("security alert: active request ownership mismatch", "request_id", match.ID, "user", me.ID)
		return nil, ErrForbidden
	}
	return match, nil
}

func (s *Service) CreateRequest(ctx context.Context, in NewRequest) (*Request, error) {
	if in.Customer.ID == "" {
		return nil, ErrBadRequest
	}
	now := s.now()
	r := &Request{
		ID:          in.ID,
		Customer:    in.Customer,
		Pickup:      in.Pickup,
		Destination: in.Destination,
		Fare:        in.Fare,
		Timestamp:   types.Millis(now),
		Status:      StatusPending,
	}
	if r.Fare.Currency == "" {
		r.Fare.Currency = types.DefaultCurrency
	}

	if r.ID != "" {
		if err := s.store.Insert(ctx, r); err != nil {
			return nil, err
		}
	} else if err := s.insertWithGeneratedID(ctx, r, types.Millis(now)); err != nil {
		return nil, err
	}

	observability.RequestsCreated.Inc()
	s.log.Info("request created", "request_id", r.ID, "customer_id", r.Customer.ID, "fare", r.Fare.Amount)
	return r, nil
}

// insertWithGeneratedID uses req_<millis>, moving to the next millisecond on collision.
func (s *Service) insertWithGeneratedID(ctx context.Context, r *Request, ms int64) error {
	for i := 0; i < maxIDAttempts; i++ {
		r.ID = types.ID("req_" + strconv.FormatInt(ms+int64(i), 10))
		err := s.store.Insert(ctx, r)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return err
		}
	}
	return fmt.Errorf("allocate request id: %w", ErrDuplicateID)
}

// AcceptRequest lets exactly one driver win a pending request. Losers get ErrConflict
// (lost the swap) or ErrInvalidState (already taken when they looked).
func (s *Service) AcceptRequest(ctx context.Context, id, driverID types.ID, driverName string) (*Request, error) {
	if driverID == "" {
		return nil, ErrBadRequest
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Claimable() {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, r.ID, StatusPending, StatusAccepted, r.Version, &Party{ID: driverID, Name: driverName})
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.AcceptConflicts.Inc()
		s.log.Info("accept lost race", "request_id", id, "driver_id", driverID)
		return nil, ErrConflict
	}
	observability.RequestsAccepted.Inc()

	r.Status = StatusAccepted
	r.Version++
	d := driverID
	r.DriverID = &d
	r.DriverName = driverName

	if s.sessions != nil {
		pickup, dropoff := r.Pickup.Coordinates, r.Destination.Coordinates
		s.sessions.Session(driverID).StartTrip(session.Details{
			RequestID:   r.ID,
			DriverID:    driverID,
			DriverName:  driverName,
			Origin:      r.Pickup.Name,
			Destination: r.Destination.Name,
			Pickup:      &pickup,
			Dropoff:     &dropoff,
			Fare:        r.Fare,
		})
	}
	s.log.Info("request accepted", "request_id", id, "driver_id", driverID)
	return r, nil
}

// UpdateRequestStatus applies a transition and re-reads the request to confirm it stuck.
// Only the customer or the assigned driver may change a request.
func (s *Service) UpdateRequestStatus(ctx context.Context, id types.ID, status Status) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		s.log.Warn("status update for unknown request", "request_id", id, "status", status)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, r); err != nil {
		return nil, err
	}
	if r.Status == status {
		return r, nil
	}
	if status == StatusAccepted || !CanTransition(r.Status, status) {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, id, r.Status, status, r.Version, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	got, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if got.Status != status {
		s.log.Error("status change not observed after write", "request_id", id, "want", status, "got", got.Status)
		return nil, ErrNotPersisted
	}
	s.log.Info("request status updated", "request_id", id, "from", r.Status, "to", status)
	return got, nil
}

// DropOpen removes the user's pending/accepted requests; it implements session.Pruner.
func (s *Service) DropOpen(ctx context.Context, userID types.ID) (int, error) {
	return s.store.Prune(ctx, func(r *Request) bool {
		return r.Involves(userID) && r.Status.Open()
	})
}

// DropClosed removes the user's completed/cancelled requests.
func (s *Service) DropClosed(ctx context.Context, userID types.ID) (int, error) {
	return s.store.Prune(ctx, func(r *Request) bool {
		return r.Involves(userID) && r.Status.Terminal()
	})
}
