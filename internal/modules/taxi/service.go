// README: Trip orchestration: server call first, local registry/session/broadcast mutation always.
package taxi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"ridesync/internal/kv"
	"ridesync/internal/modules/broadcast"
	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/location"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/modules/registry"
	"ridesync/internal/modules/session"
	"ridesync/internal/observability"
	"ridesync/internal/types"
)

var ErrBadRequest = errors.New("bad trip request")

// PlaceResolver geocodes a place name when the caller sent no coordinates.
type PlaceResolver interface {
	Resolve(ctx context.Context, name string) (types.Point, string, error)
}

type Deps struct {
	Client   *Client
	Tokens   *TokenSource
	Registry *registry.Service
	Sessions *session.Pool
	Events   *broadcast.Log
	Pricing  *pricing.Service
	Places   PlaceResolver
	KV       kv.Store
	Log      *slog.Logger
}

type Service struct {
	client   *Client
	tokens   *TokenSource
	registry *registry.Service
	sessions *session.Pool
	events   *broadcast.Log
	pricing  *pricing.Service
	places   PlaceResolver
	kv       kv.Store
	log      *slog.Logger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		client:   d.Client,
		tokens:   d.Tokens,
		registry: d.Registry,
		sessions: d.Sessions,
		events:   d.Events,
		pricing:  d.Pricing,
		places:   d.Places,
		kv:       d.KV,
		log:      d.Log.With("component", "taxi"),
		now:      time.Now,
	}
}

type TripInput struct {
	Customer    registry.Party
	Pickup      registry.Place
	Destination registry.Place
	Fare        types.Money
	CarType     string
	Weather     string
}

// CreateTrip registers the trip with the server when possible and always locally. A
// zero fare is replaced by an estimate.
func (s *Service) CreateTrip(ctx context.Context, in TripInput) (Result[*registry.Request], error) {
	if in.Customer.ID == "" {
		return Result[*registry.Request]{}, ErrBadRequest
	}
	in.Pickup = s.resolve(ctx, in.Pickup)
	in.Destination = s.resolve(ctx, in.Destination)
	if in.Fare.IsZero() && s.pricing != nil {
		fare, err := s.estimate(ctx, in)
		if err != nil {
			s.log.Warn("fare estimate failed", "customer_id", in.Customer.ID, "err", err)
		} else {
			in.Fare = fare
		}
	}

	remote, upstream := s.remoteCreate(ctx, in)
	nr := registry.NewRequest{
		Customer:    in.Customer,
		Pickup:      in.Pickup,
		Destination: in.Destination,
		Fare:        in.Fare,
	}
	if remote != nil {
		nr.ID = types.ID(remote.Key())
	}
	req, err := s.registry.CreateRequest(ctx, nr)
	if errors.Is(err, registry.ErrDuplicateID) && nr.ID != "" {
		s.log.Warn("server trip id already known locally", "trip_id", nr.ID)
		nr.ID = ""
		req, err = s.registry.CreateRequest(ctx, nr)
	}
	if err != nil {
		return Result[*registry.Request]{}, err
	}

	pickup, dropoff := req.Pickup.Coordinates, req.Destination.Coordinates
	s.sessions.Session(req.Customer.ID).StartTrip(session.Details{
		RequestID:   req.ID,
		DriverID:    session.UnassignedDriverID,
		Origin:      req.Pickup.Name,
		Destination: req.Destination.Name,
		Pickup:      &pickup,
		Dropoff:     &dropoff,
		Fare:        req.Fare,
	})
	s.project(ctx, identity.RoleCustomer, req.Customer.ID, req)
	s.emit(ctx, broadcast.TypeTripCreated, req)
	return outcome(s, "create", req, remote != nil, upstream), nil
}

func (s *Service) remoteCreate(ctx context.Context, in TripInput) (*RemoteTrip, error) {
	if !s.client.Configured() {
		return nil, nil
	}
	remote, err := s.client.CreateTrip(ctx, CreateTripRequest{
		CustomerID:      string(in.Customer.ID),
		CustomerName:    in.Customer.Name,
		PickupName:      in.Pickup.Name,
		PickupLat:       in.Pickup.Coordinates.Lat,
		PickupLng:       in.Pickup.Coordinates.Lng,
		DestinationName: in.Destination.Name,
		DestinationLat:  in.Destination.Coordinates.Lat,
		DestinationLng:  in.Destination.Coordinates.Lng,
		Fare:            in.Fare.Amount,
	})
	if err != nil {
		return nil, err
	}
	if remote.Key() == "" {
		return nil, errors.New("create trip: server returned no id")
	}
	return remote, nil
}

func (s *Service) resolve(ctx context.Context, p registry.Place) registry.Place {
	if s.places == nil || p.Name == "" || (p.Coordinates != types.Point{}) {
		return p
	}
	pt, _, err := s.places.Resolve(ctx, p.Name)
	if err != nil {
		s.log.Debug("place lookup failed", "name", p.Name, "err", err)
		return p
	}
	p.Coordinates = pt
	return p
}

func (s *Service) estimate(ctx context.Context, in TripInput) (types.Money, error) {
	km := location.DistanceKm(in.Pickup.Coordinates, in.Destination.Coordinates)
	minutes := math.Ceil(km * 1000 / location.DefaultSpeedMps / 60)
	res, err := s.pricing.Estimate(ctx, pricing.PricingRequest{
		DistanceKm:  km,
		DurationMin: minutes,
		RequestTime: s.now(),
		Weather:     in.Weather,
		CarType:     in.CarType,
	})
	if err != nil {
		return types.Money{}, err
	}
	return res.Money(), nil
}

// AcceptTrip claims the trip for the driver. A missing driver id is read from the
// caller's token. Local first-accept-wins is authoritative: ErrConflict / ErrInvalidState
// from the registry are returned even when the server accepted.
func (s *Service) AcceptTrip(ctx context.Context, tripID, driverID types.ID, driverName string) (Result[*registry.Request], error) {
	if driverID == "" {
		driverID = s.callerID(ctx)
	}
	if tripID == "" || driverID == "" {
		return Result[*registry.Request]{}, ErrBadRequest
	}

	var remote *RemoteTrip
	var upstream error
	if s.client.Configured() {
		remote, upstream = s.client.AcceptTrip(ctx, string(tripID), driverID)
	}

	req, err := s.registry.AcceptRequest(ctx, tripID, driverID, driverName)
	if errors.Is(err, registry.ErrNotFound) && remote != nil {
		// Trip only known to the server: adopt it, then accept locally.
		if _, cerr := s.registry.CreateRequest(ctx, adopt(tripID, remote)); cerr != nil {
			return Result[*registry.Request]{}, cerr
		}
		req, err = s.registry.AcceptRequest(ctx, tripID, driverID, driverName)
	}
	if err != nil {
		return Result[*registry.Request]{}, err
	}

	if cs, ok := s.sessions.Lookup(req.Customer.ID); ok && cs.Snapshot().TripData.RequestID == req.ID {
		cs.AssignDriver(driverID, driverName)
	}
	s.project(ctx, identity.RoleDriver, driverID, req)
	s.project(ctx, identity.RoleCustomer, req.Customer.ID, req)
	s.emit(ctx, broadcast.TypeTripAccepted, req)
	return outcome(s, "accept", req, remote != nil, upstream), nil
}

func adopt(id types.ID, t *RemoteTrip) registry.NewRequest {
	return registry.NewRequest{
		ID:          id,
		Customer:    registry.Party{ID: types.ID(t.CustomerID), Name: t.CustomerName},
		Pickup:      registry.Place{Name: t.PickupName, Coordinates: types.Point{Lat: t.PickupLat, Lng: t.PickupLng}},
		Destination: registry.Place{Name: t.DestinationName, Coordinates: types.Point{Lat: t.DestinationLat, Lng: t.DestinationLng}},
		Fare:        types.NewMoney(t.Fare),
	}
}

// UpdateTripStatus moves the trip to status for both parties. Only a party of the trip
// may call it.
func (s *Service) UpdateTripStatus(ctx context.Context, tripID types.ID, status registry.Status) (Result[*registry.Request], error) {
	if err := s.checkParticipant(ctx, tripID); err != nil {
		return Result[*registry.Request]{}, err
	}
	var upstream error
	tried := s.client.Configured()
	if tried {
		upstream = s.client.UpdateTripStatus(ctx, string(tripID), string(status))
	}
	req, err := s.registry.UpdateRequestStatus(ctx, tripID, status)
	if err != nil {
		return Result[*registry.Request]{}, err
	}
	s.settle(ctx, req, status)
	s.emit(ctx, broadcast.TypeTripStatus, req)
	return outcome(s, "status", req, tried && upstream == nil, upstream), nil
}

// CancelTrip cancels the trip for both parties. Only a party of the trip may call it.
func (s *Service) CancelTrip(ctx context.Context, tripID types.ID, reason string) (Result[*registry.Request], error) {
	if err := s.checkParticipant(ctx, tripID); err != nil {
		return Result[*registry.Request]{}, err
	}
	var upstream error
	tried := s.client.Configured()
	if tried {
		upstream = s.client.CancelTrip(ctx, string(tripID))
	}
	req, err := s.registry.UpdateRequestStatus(ctx, tripID, registry.StatusCancelled)
	if err != nil {
		return Result[*registry.Request]{}, err
	}
	s.log.Info("trip cancelled", "trip_id", tripID, "reason", reason)
	s.settle(ctx, req, registry.StatusCancelled)
	s.emit(ctx, broadcast.TypeTripCancelled, req)
	return outcome(s, "cancel", req, tried && upstream == nil, upstream), nil
}

// checkParticipant rejects non-parties before the server is called. A trip unknown
// locally is left to the server and the registry update that follows.
func (s *Service) checkParticipant(ctx context.Context, tripID types.ID) error {
	err := s.registry.CheckParticipant(ctx, tripID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	return err
}

// settle mirrors a registry status onto the sessions and projections of both parties.
func (s *Service) settle(ctx context.Context, req *registry.Request, status registry.Status) {
	var ss session.Status
	switch status {
	case registry.StatusCompleted:
		ss = session.StatusCompleted
	case registry.StatusCancelled:
		ss = session.StatusCancelled
	default:
		return
	}
	type party struct {
		role identity.Role
		id   types.ID
	}
	parties := []party{{identity.RoleCustomer, req.Customer.ID}}
	if req.Assigned() {
		parties = append(parties, party{identity.RoleDriver, *req.DriverID})
	}
	for _, p := range parties {
		if sess, ok := s.sessions.Lookup(p.id); ok && sess.Snapshot().TripData.RequestID == req.ID {
			sess.UpdateTripStatus(ss)
		}
		s.unproject(ctx, p.role, p.id, req.ID)
	}
}

// GetPendingTrips lists claimable trips. Signed-out callers get the demo dataset.
func (s *Service) GetPendingTrips(ctx context.Context) (Result[[]registry.Request], error) {
	if _, err := s.tokens.Token(ctx); errors.Is(err, ErrNoToken) {
		return Result[[]registry.Request]{Value: demoTrips(types.Millis(s.now())), Source: SourceDemo}, nil
	}
	var upstream error
	if s.client.Configured() {
		remote, err := s.client.AvailableTrips(ctx)
		if err == nil {
			return live(fromRemote(remote)), nil
		}
		upstream = err
	}
	reqs, err := s.registry.GetRequests(ctx)
	if err != nil {
		return Result[[]registry.Request]{}, err
	}
	return outcome(s, "pending", reqs, false, upstream), nil
}

// GetTripHistory lists the user's finished trips.
func (s *Service) GetTripHistory(ctx context.Context, userID types.ID) (Result[[]registry.Request], error) {
	var upstream error
	if s.client.Configured() {
		remote, err := s.client.TripHistory(ctx)
		if err == nil {
			return live(fromRemote(remote)), nil
		}
		upstream = err
	}
	all, err := s.registry.GetAllRequests(ctx)
	if err != nil {
		return Result[[]registry.Request]{}, err
	}
	out := make([]registry.Request, 0, len(all))
	for i := range all {
		if all[i].Involves(userID) && all[i].Status.Terminal() {
			out = append(out, all[i])
		}
	}
	return outcome(s, "history", out, false, upstream), nil
}

// RemoteStatus reports whether a Trip API is configured and accepts the caller's token.
type RemoteStatus struct {
	Configured    bool   `json:"configured"`
	Authenticated bool   `json:"authenticated"`
	Error         string `json:"error,omitempty"`
}

func (s *Service) CheckAuth(ctx context.Context) RemoteStatus {
	if !s.client.Configured() {
		return RemoteStatus{}
	}
	if err := s.client.CheckAuth(ctx); err != nil {
		return RemoteStatus{Configured: true, Error: err.Error()}
	}
	return RemoteStatus{Configured: true, Authenticated: true}
}

// ActiveTrip returns the stored active-trip projection for the user, or nil.
func (s *Service) ActiveTrip(ctx context.Context, role identity.Role, userID types.ID) (*registry.Request, error) {
	var r registry.Request
	ok, err := kv.GetJSON(ctx, s.kv, activeKey(role, userID), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

func fromRemote(trips []RemoteTrip) []registry.Request {
	out := make([]registry.Request, 0, len(trips))
	for i := range trips {
		t := &trips[i]
		n := adopt(types.ID(t.Key()), t)
		r := registry.Request{
			ID:          n.ID,
			Customer:    n.Customer,
			Pickup:      n.Pickup,
			Destination: n.Destination,
			Fare:        n.Fare,
			Timestamp:   t.CreatedAt,
			Status:      registry.StatusPending,
		}
		if st, ok := registry.ParseStatus(t.Status); ok {
			r.Status = st
		}
		if t.DriverID != "" {
			d := types.ID(t.DriverID)
			r.DriverID = &d
			r.DriverName = t.DriverName
		}
		out = append(out, r)
	}
	return out
}

func (s *Service) callerID(ctx context.Context) types.ID {
	if u, ok := identity.FromContext(ctx); ok && u.ID != "" {
		return u.ID
	}
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return ""
	}
	id, err := UserIDFromToken(tok)
	if err != nil {
		s.log.Debug("driver id not in token", "err", err)
		return ""
	}
	return id
}

// outcome labels v live when the server took part, otherwise local with the swallowed error.
func outcome[T any](s *Service, op string, v T, isLive bool, upstream error) Result[T] {
	if isLive {
		return live(v)
	}
	if upstream != nil {
		observability.RemoteFallbacks.WithLabelValues(op).Inc()
		s.log.Warn("trip api failed, served from local state", "op", op, "err", upstream)
	}
	return local(v, upstream)
}

func activeKey(role identity.Role, userID types.ID) string {
	return fmt.Sprintf("active_trip:%s:%s", role, userID)
}

func (s *Service) project(ctx context.Context, role identity.Role, userID types.ID, req *registry.Request) {
	if s.kv == nil {
		return
	}
	if err := kv.SetJSON(ctx, s.kv, activeKey(role, userID), req); err != nil {
		s.log.Warn("active trip projection failed", "user_id", userID, "err", err)
	}
}

// unproject removes the projection only if it still points at this trip.
func (s *Service) unproject(ctx context.Context, role identity.Role, userID, tripID types.ID) {
	if s.kv == nil {
		return
	}
	cur, err := s.ActiveTrip(ctx, role, userID)
	if err != nil || cur == nil || cur.ID != tripID {
		return
	}
	if err := s.kv.Remove(ctx, activeKey(role, userID)); err != nil {
		s.log.Warn("active trip projection cleanup failed", "user_id", userID, "err", err)
	}
}

func (s *Service) emit(ctx context.Context, typ broadcast.Type, req *registry.Request) {
	if s.events == nil {
		return
	}
	var driverID types.ID
	if req.DriverID != nil {
		driverID = *req.DriverID
	}
	if _, err := s.events.BroadcastTripEvent(ctx, typ, req.ID, driverID, req.Customer.ID, req); err != nil {
		s.log.Warn("trip broadcast failed", "trip_id", req.ID, "type", typ, "err", err)
	}
}
