package location

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"ridesync/internal/kv"
	"ridesync/internal/modules/broadcast"
	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/registry"
	"ridesync/internal/types"
)

type fakeTrips struct {
	mu    sync.Mutex
	trips map[types.ID]*registry.Request
}

func (f *fakeTrips) GetRequestByID(_ context.Context, id types.ID) (*registry.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.trips[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

type fakeRouter struct {
	d   time.Duration
	m   float64
	err error
}

func (f fakeRouter) Route(context.Context, types.Point, types.Point) (time.Duration, float64, error) {
	return f.d, f.m, f.err
}

type fakeSyncer struct {
	mu   sync.Mutex
	got  []Record
	fail bool
}

func (f *fakeSyncer) Name() string { return "fake" }

func (f *fakeSyncer) Sync(_ context.Context, r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, r)
	if f.fail {
		return errors.New("sync down")
	}
	return nil
}

var (
	pickup      = types.Point{Lat: 25.0330, Lng: 121.5654}
	destination = types.Point{Lat: 25.0478, Lng: 121.5170}
)

type testEnv struct {
	svc    *Service
	trips  *fakeTrips
	events *broadcast.Log
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := kv.NewMemoryStore()
	driver := types.ID("d1")
	trips := &fakeTrips{trips: map[types.ID]*registry.Request{
		"t1": {
			ID:          "t1",
			Customer:    registry.Party{ID: "c1"},
			Pickup:      registry.Place{Name: "P", Coordinates: pickup},
			Destination: registry.Place{Name: "D", Coordinates: destination},
			Status:      registry.StatusAccepted,
			DriverID:    &driver,
		},
	}}
	events := broadcast.NewLog(mem, nil, log)
	env := &testEnv{trips: trips, events: events, now: time.UnixMilli(1_700_000_000_000)}
	env.svc = NewService(NewStore(mem), trips, events, log)
	env.svc.now = func() time.Time { return env.now }
	return env
}

func fix(lat, lng float64) Fix {
	return Fix{Latitude: &lat, Longitude: &lng}
}

func TestUpdateUserLocation_MissingCoordinates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lat := 25.0
	if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, Fix{Latitude: &lat}, ""); !errors.Is(err, ErrMissingCoordinates) {
		t.Fatalf("expected ErrMissingCoordinates, got %v", err)
	}
	if _, err := env.svc.UpdateUserLocation(ctx, "", identity.RoleDriver, fix(1, 1), ""); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser, got %v", err)
	}
	if rec, _ := env.svc.GetUserLocation(ctx, "d1", identity.RoleDriver); rec != nil {
		t.Fatalf("rejected sample must not be stored, got %+v", rec)
	}
}

func TestUpdateUserLocation_ZeroCoordinatesAccepted(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.UpdateUserLocation(context.Background(), "d1", identity.RoleDriver, fix(0, 0), ""); err != nil {
		t.Fatalf("0,0 is a valid position: %v", err)
	}
}

func TestUpdateUserLocation_TripScopedAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, fix(25.04, 121.55), "t1"); err != nil {
		t.Fatalf("update: %v", err)
	}
	locs, err := env.svc.GetTripLocations(ctx, "t1")
	if err != nil {
		t.Fatalf("trip locations: %v", err)
	}
	if locs.Driver == nil || locs.Driver.Latitude != 25.04 || locs.Customer != nil {
		t.Fatalf("unexpected trip locations: %+v", locs)
	}

	// The customer of the trip sees the driver's position.
	events, _ := env.events.GetTripEventsForUser(ctx, "c1", 0)
	if len(events) != 1 || events[0].Type != broadcast.TypeDriverLocation || events[0].DriverID != "d1" {
		t.Fatalf("unexpected events for customer: %+v", events)
	}

	if _, err := env.svc.UpdateUserLocation(ctx, "c1", identity.RoleCustomer, fix(25.03, 121.56), "t1"); err != nil {
		t.Fatalf("update customer: %v", err)
	}
	events, _ = env.events.GetTripEventsForUser(ctx, "d1", 0)
	if len(events) != 2 || events[1].Type != broadcast.TypeCustomerLocation {
		t.Fatalf("unexpected events for driver: %+v", events)
	}
}

func TestUpdateUserLocation_NoTripNoBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, fix(25.04, 121.55), ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	if events, _ := env.events.GetLatestEvents(ctx, 0); len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestHistoryCappedFIFO(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < HistorySize+5; i++ {
		env.now = env.now.Add(time.Second)
		if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, fix(25, 121+float64(i)/1000), ""); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	h, err := env.svc.GetUserLocationHistory(ctx, "d1", identity.RoleDriver)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h) != HistorySize {
		t.Fatalf("expected %d entries, got %d", HistorySize, len(h))
	}
	if h[0].Longitude != 121+5.0/1000 {
		t.Fatalf("oldest entries should be evicted first, head=%v", h[0].Longitude)
	}
	latest, _ := env.svc.GetUserLocation(ctx, "d1", identity.RoleDriver)
	if latest.Timestamp != h[len(h)-1].Timestamp {
		t.Fatalf("latest should match newest history entry")
	}
}

func TestGetUserLocation_StaleIsStillReturned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, fix(25, 121), ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	env.now = env.now.Add(10 * time.Minute)
	rec, err := env.svc.GetUserLocation(ctx, "d1", identity.RoleDriver)
	if err != nil || rec == nil {
		t.Fatalf("stale location must still be returned: %v %v", rec, err)
	}
}

func TestCalculateETA_TargetsPickupWhileAccepted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	speed := 10.0
	f := fix(25.0478, 121.5170)
	f.Speed = &speed
	if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, f, "t1"); err != nil {
		t.Fatalf("update: %v", err)
	}
	eta, err := env.svc.CalculateETA(ctx, "t1")
	if err != nil {
		t.Fatalf("eta: %v", err)
	}
	if eta.Target != TargetPickup || eta.Source != SourceHaversine {
		t.Fatalf("unexpected eta: %+v", eta)
	}
	km := haversineKm(25.0478, 121.5170, pickup.Lat, pickup.Lng)
	if eta.EtaSeconds != etaSeconds(km*1000, 10) || eta.DistanceRemaining != roundKm(km) {
		t.Fatalf("unexpected eta numbers: %+v (km=%f)", eta, km)
	}
}

func TestCalculateETA_AtTargetIsZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.SetRouter(fakeRouter{err: errors.New("must not be called")})
	if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, fix(pickup.Lat, pickup.Lng), "t1"); err != nil {
		t.Fatalf("update: %v", err)
	}
	eta, err := env.svc.CalculateETA(ctx, "t1")
	if err != nil {
		t.Fatalf("eta: %v", err)
	}
	if eta.EtaSeconds != 0 || eta.DistanceRemaining != 0 {
		t.Fatalf("expected zero eta at target, got %+v", eta)
	}
}

func TestCalculateETA_DestinationAndUserFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.trips.trips["t1"].Status = registry.StatusPending

	// No trip-scoped sample: fall back to the assigned driver's latest position.
	if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, fix(pickup.Lat, pickup.Lng), ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	eta, err := env.svc.CalculateETA(ctx, "t1")
	if err != nil {
		t.Fatalf("eta: %v", err)
	}
	if eta.Target != TargetDestination {
		t.Fatalf("expected destination target, got %s", eta.Target)
	}
	km := haversineKm(pickup.Lat, pickup.Lng, destination.Lat, destination.Lng)
	if eta.EtaSeconds != etaSeconds(km*1000, DefaultSpeedMps) {
		t.Fatalf("expected default speed eta, got %d", eta.EtaSeconds)
	}
}

func TestCalculateETA_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.CalculateETA(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.svc.CalculateETA(ctx, "t1"); !errors.Is(err, ErrNoDriverLocation) {
		t.Fatalf("expected ErrNoDriverLocation, got %v", err)
	}
}

func TestCalculateETA_RouteRefinement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.UpdateUserLocation(ctx, "d1", identity.RoleDriver, fix(25.0478, 121.5170), "t1"); err != nil {
		t.Fatalf("update: %v", err)
	}

	env.svc.SetRouter(fakeRouter{d: 7 * time.Minute, m: 4240})
	eta, err := env.svc.CalculateETA(ctx, "t1")
	if err != nil {
		t.Fatalf("eta: %v", err)
	}
	if eta.Source != SourceRoute || eta.EtaSeconds != 420 || eta.DistanceRemaining != 4.2 {
		t.Fatalf("unexpected route eta: %+v", eta)
	}

	env.svc.SetRouter(fakeRouter{err: errors.New("quota")})
	eta, err = env.svc.CalculateETA(ctx, "t1")
	if err != nil || eta.Source != SourceHaversine {
		t.Fatalf("router failure should fall back to haversine: %+v %v", eta, err)
	}
}

func TestSyncersAreBestEffort(t *testing.T) {
	env := newTestEnv(t)
	ok, failing := &fakeSyncer{}, &fakeSyncer{fail: true}
	env.svc.AddSyncer(ok)
	env.svc.AddSyncer(failing)

	if _, err := env.svc.UpdateUserLocation(context.Background(), "d1", identity.RoleDriver, fix(25, 121), ""); err != nil {
		t.Fatalf("sync failure must not fail the update: %v", err)
	}
	env.svc.WaitSync()
	if len(ok.got) != 1 || len(failing.got) != 1 {
		t.Fatalf("expected both syncers called, got %d and %d", len(ok.got), len(failing.got))
	}
}

func TestNearbyDrivers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _ = env.svc.UpdateUserLocation(ctx, "far", identity.RoleDriver, fix(25.2, 121.6), "")
	_, _ = env.svc.UpdateUserLocation(ctx, "near", identity.RoleDriver, fix(25.034, 121.565), "")
	_, _ = env.svc.UpdateUserLocation(ctx, "mid", identity.RoleDriver, fix(25.045, 121.55), "")
	_, _ = env.svc.UpdateUserLocation(ctx, "c1", identity.RoleCustomer, fix(25.033, 121.565), "")

	got, err := env.svc.NearbyDrivers(ctx, pickup, 5)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 || got[0].UserID != "near" || got[1].UserID != "mid" {
		t.Fatalf("unexpected nearby drivers: %+v", got)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSinkKeysByUser(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}
	if err := sink.Sync(context.Background(), Record{UserID: "d1", Role: identity.RoleDriver}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "d1" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
}

func TestFirebaseEntryMapping(t *testing.T) {
	node, e := toRTDB(Record{UserID: "d1", Role: identity.RoleDriver, TripID: "t1", Latitude: 1, Longitude: 2})
	if node != driverNode || e.Status != "on_trip" || e.Lat != 1 || e.Lng != 2 {
		t.Fatalf("unexpected driver entry: %s %+v", node, e)
	}
	node, e = toRTDB(Record{UserID: "c1", Role: identity.RoleCustomer})
	if node != customerNode || e.Status != "looking_for_ride" {
		t.Fatalf("unexpected customer entry: %s %+v", node, e)
	}
}
