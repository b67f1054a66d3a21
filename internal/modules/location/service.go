// README: Location service stores GPS samples, broadcasts trip positions and estimates ETA.
package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ridesync/internal/modules/broadcast"
	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/registry"
	"ridesync/internal/observability"
	"ridesync/internal/types"
)

const (
	staleAfter  = 5 * time.Minute
	syncTimeout = 5 * time.Second
)

// Broadcaster is the part of the broadcast log the service writes trip positions to.
type Broadcaster interface {
	BroadcastTripEvent(ctx context.Context, typ broadcast.Type, tripID, driverID, customerID types.ID, data any) (broadcast.Event, error)
}

type Service struct {
	store   *Store
	trips   TripReader
	events  Broadcaster
	router  Router
	syncers []Syncer
	log     *slog.Logger
	now     func() time.Time
	pending sync.WaitGroup
}

func NewService(store *Store, trips TripReader, events Broadcaster, log *slog.Logger) *Service {
	return &Service{
		store:  store,
		trips:  trips,
		events: events,
		log:    log.With("component", "location"),
		now:    time.Now,
	}
}

// SetRouter enables road-route ETA refinement. Call before serving.
func (s *Service) SetRouter(r Router) {
	s.router = r
}

// AddSyncer registers a best-effort sink. Call before serving.
func (s *Service) AddSyncer(sy Syncer) {
	s.syncers = append(s.syncers, sy)
}

// UpdateUserLocation stores the sample as the user's latest position and appends it to
// their history. With a trip id it also stores the trip-scoped position and broadcasts it.
func (s *Service) UpdateUserLocation(ctx context.Context, userID types.ID, role identity.Role, fix Fix, tripID types.ID) (Record, error) {
	if userID == "" {
		return Record{}, ErrMissingUser
	}
	if fix.Latitude == nil || fix.Longitude == nil {
		return Record{}, ErrMissingCoordinates
	}
	rec := Record{
		UserID:    userID,
		Role:      role,
		Latitude:  *fix.Latitude,
		Longitude: *fix.Longitude,
		Timestamp: fix.Timestamp,
		TripID:    tripID,
		Speed:     fix.Speed,
		Heading:   fix.Heading,
		Accuracy:  fix.Accuracy,
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = types.Millis(s.now())
	}
	trip, err := s.tripFor(ctx, tripID)
	if err != nil {
		return Record{}, err
	}

	if err := s.store.SetLatest(ctx, rec); err != nil {
		return Record{}, err
	}
	if tripID != "" {
		if err := s.store.SetTrip(ctx, rec); err != nil {
			return Record{}, err
		}
		s.broadcast(ctx, rec, trip)
	}
	if err := s.store.AppendHistory(ctx, rec); err != nil {
		return Record{}, err
	}

	observability.LocationUpdates.WithLabelValues(string(role)).Inc()
	s.sync(ctx, rec)
	return rec, nil
}

// tripFor resolves the trip a sample is scoped to. Only ErrForbidden is fatal; a trip
// the registry does not know still gets its trip-scoped position.
func (s *Service) tripFor(ctx context.Context, tripID types.ID) (*registry.Request, error) {
	if tripID == "" || s.trips == nil {
		return nil, nil
	}
	trip, err := s.trips.GetRequestByID(ctx, tripID)
	if errors.Is(err, registry.ErrForbidden) {
		return nil, err
	}
	if err != nil {
		return nil, nil
	}
	return trip, nil
}

func (s *Service) broadcast(ctx context.Context, rec Record, trip *registry.Request) {
	if s.events == nil {
		return
	}
	typ := broadcast.TypeCustomerLocation
	var driverID, customerID types.ID
	if rec.Role == identity.RoleDriver {
		typ = broadcast.TypeDriverLocation
		driverID = rec.UserID
	} else {
		customerID = rec.UserID
	}
	// Fill in the other party so their user-filtered stream sees the position.
	if trip != nil {
		if customerID == "" {
			customerID = trip.Customer.ID
		}
		if driverID == "" && trip.DriverID != nil {
			driverID = *trip.DriverID
		}
	}
	if _, err := s.events.BroadcastTripEvent(ctx, typ, rec.TripID, driverID, customerID, rec); err != nil {
		s.log.Warn("location broadcast failed", "trip_id", rec.TripID, "err", err)
	}
}

// sync outlives the request but keeps its values, so a request-scoped bearer token
// still reaches the Trip API syncer.
func (s *Service) sync(ctx context.Context, rec Record) {
	base := context.WithoutCancel(ctx)
	for _, sy := range s.syncers {
		s.pending.Add(1)
		go func(sy Syncer) {
			defer s.pending.Done()
			ctx, cancel := context.WithTimeout(base, syncTimeout)
			defer cancel()
			if err := sy.Sync(ctx, rec); err != nil {
				observability.LocationSyncFailures.WithLabelValues(sy.Name()).Inc()
				s.log.Debug("location sync failed", "syncer", sy.Name(), "user_id", rec.UserID, "err", err)
			}
		}(sy)
	}
}

// WaitSync blocks until background syncs have finished.
func (s *Service) WaitSync() {
	s.pending.Wait()
}

// GetUserLocation returns nil when the user has never reported a position.
func (s *Service) GetUserLocation(ctx context.Context, userID types.ID, role identity.Role) (*Record, error) {
	rec, err := s.store.Latest(ctx, role, userID)
	if err != nil || rec == nil {
		return nil, err
	}
	if age := rec.Age(s.now()); age > staleAfter {
		s.log.Warn("stale location", "user_id", userID, "role", role, "age", age.Round(time.Second))
	}
	return rec, nil
}

func (s *Service) GetUserLocationHistory(ctx context.Context, userID types.ID, role identity.Role) ([]Record, error) {
	return s.store.History(ctx, role, userID)
}

func (s *Service) GetTripLocations(ctx context.Context, tripID types.ID) (TripLocations, error) {
	out := TripLocations{TripID: tripID}
	if _, err := s.tripFor(ctx, tripID); err != nil {
		return out, err
	}
	var err error
	if out.Driver, err = s.store.Trip(ctx, tripID, identity.RoleDriver); err != nil {
		return out, err
	}
	if out.Customer, err = s.store.Trip(ctx, tripID, identity.RoleCustomer); err != nil {
		return out, err
	}
	return out, nil
}

// CalculateETA measures from the driver's latest position to the pickup while the trip
// is accepted, otherwise to the destination.
func (s *Service) CalculateETA(ctx context.Context, tripID types.ID) (*ETA, error) {
	trip, err := s.trips.GetRequestByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	driver, err := s.driverLocation(ctx, trip)
	if err != nil {
		return nil, err
	}

	out := &ETA{TripID: tripID, Driver: *driver, Source: SourceHaversine}
	if trip.Status == registry.StatusAccepted {
		out.Target, out.TargetPoint = TargetPickup, trip.Pickup.Coordinates
	} else {
		out.Target, out.TargetPoint = TargetDestination, trip.Destination.Coordinates
	}

	km := haversineKm(driver.Latitude, driver.Longitude, out.TargetPoint.Lat, out.TargetPoint.Lng)
	out.DistanceRemaining = roundKm(km)
	out.EtaSeconds = etaSeconds(km*1000, effectiveSpeed(driver.Speed))

	if s.router != nil && km > 0 {
		d, meters, err := s.router.Route(ctx, driver.Point(), out.TargetPoint)
		if err != nil {
			s.log.Debug("route refinement failed", "trip_id", tripID, "err", err)
			return out, nil
		}
		out.EtaSeconds = roundDuration(d)
		out.DistanceRemaining = roundKm(meters / 1000)
		out.Source = SourceRoute
	}
	return out, nil
}

func (s *Service) driverLocation(ctx context.Context, trip *registry.Request) (*Record, error) {
	rec, err := s.store.Trip(ctx, trip.ID, identity.RoleDriver)
	if err != nil {
		return nil, err
	}
	if rec == nil && trip.DriverID != nil {
		if rec, err = s.store.Latest(ctx, identity.RoleDriver, *trip.DriverID); err != nil {
			return nil, err
		}
	}
	if rec == nil {
		return nil, ErrNoDriverLocation
	}
	return rec, nil
}

// NearbyDrivers lists drivers whose latest position is within radiusKm, closest first.
// Positions older than the staleness window are skipped.
func (s *Service) NearbyDrivers(ctx context.Context, at types.Point, radiusKm float64) ([]Nearby, error) {
	all, err := s.store.LatestByRole(ctx, identity.RoleDriver)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []Nearby
	for _, r := range all {
		if r.Age(now) > staleAfter {
			continue
		}
		if d := haversineKm(at.Lat, at.Lng, r.Latitude, r.Longitude); d <= radiusKm {
			out = append(out, Nearby{Record: r, DistanceKm: d})
		}
	}
	sortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	return out, nil
}
