// README: In-process wiring of the coordination services and the scenario cases run against them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridesync/internal/infra"
	"ridesync/internal/kv"
	"ridesync/internal/modules/broadcast"
	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/location"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/modules/registry"
	"ridesync/internal/modules/session"
	"ridesync/internal/modules/taxi"
	"ridesync/internal/types"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

var (
	pickup      = registry.Place{Name: "Taipei 101", Coordinates: types.Point{Lat: 25.0339, Lng: 121.5645}}
	destination = registry.Place{Name: "Taipei Main Station", Coordinates: types.Point{Lat: 25.0478, Lng: 121.5170}}
	customer    = identity.User{ID: "sim-customer", Name: "Sim Customer", Role: identity.RoleCustomer}
)

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(r *Runner, ctx context.Context) Result
}

type Runner struct {
	cfg   Config
	log   *slog.Logger
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	store     kv.Store
	pool      *session.Pool
	users     *identity.Store
	tokens    *taxi.TokenSource
	registry  *registry.Service
	hub       *broadcast.Hub
	events    *broadcast.Log
	locations *location.Service
	trips     *taxi.Service

	// Scenario state carried between cases.
	trip   *registry.Request
	winner identity.User

	streamMu   sync.Mutex
	streamed   []broadcast.Event
	stopStream context.CancelFunc
}

func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	r := &Runner{
		cfg:   cfg,
		log:   infra.NewLogger(cfg.LogLevel),
		httpc: &http.Client{Timeout: 5 * time.Second},
	}

	r.store = kv.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client, err := infra.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		r.redis = client
		// A per-run prefix keeps repeated runs from sharing a broadcast log.
		r.store = kv.NewRedisStore(client, fmt.Sprintf("ridesync-sim:%d:", time.Now().UnixNano()))
	}

	r.pool = session.NewPool(nil, r.log)
	r.users = identity.NewStore(r.store, r.log)
	r.tokens = taxi.NewTokenSource(r.store)
	r.users.OnSessionChange(func(id types.ID) {
		r.pool.Reset(id)
		r.tokens.Forget()
	})
	var requests registry.Store = registry.NewBlobStore(r.store)
	prices := pricing.NewService(nil)
	if cfg.DSN != "" {
		db, err := infra.NewDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		r.db = db
		requests = registry.NewPGStore(db)
		prices = pricing.NewService(pricing.NewStore(db))
	}
	r.registry = registry.NewService(requests, r.pool, r.users, r.log)
	r.pool.SetPruner(r.registry)

	r.hub = broadcast.NewHub(broadcast.DefaultBuffer, r.log)
	r.events = broadcast.NewLog(r.store, r.hub, r.log)
	r.locations = location.NewService(location.NewStore(r.store), r.registry, r.events, r.log)

	r.trips = taxi.NewService(taxi.Deps{
		Client:   taxi.NewClient("", r.tokens, r.log),
		Tokens:   r.tokens,
		Registry: r.registry,
		Sessions: r.pool,
		Events:   r.events,
		Pricing:  prices,
		KV:       r.store,
		Log:      r.log,
	})
	return r, nil
}

func (r *Runner) Close() {
	if r.stopStream != nil {
		r.stopStream()
	}
	r.pool.Wait()
	r.locations.WaitSync()
	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		start := time.Now()
		res := tc.Run(r, ctx)
		res.Name = tc.Name
		if res.Latency == 0 && res.Status != StatusSkip {
			res.Latency = time.Since(start).Round(time.Microsecond)
		}
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

// as scopes ctx to the actor. The token only has to be present; no server is called.
func as(ctx context.Context, u identity.User) context.Context {
	return taxi.WithToken(identity.WithUser(ctx, u), "sim-"+string(u.ID))
}

func driver(i int) identity.User {
	return identity.User{ID: types.ID(fmt.Sprintf("sim-driver-%d", i)), Name: fmt.Sprintf("Driver %d", i), Role: identity.RoleDriver}
}

func fail(format string, args ...any) Result {
	return Result{Status: StatusFail, Note: fmt.Sprintf(format, args...)}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: API health", Run: (*Runner).checkHealth},
		{Name: "Env: backends", Run: (*Runner).checkBackends},
		{Name: "Trip: customer books with estimated fare", Run: (*Runner).bookTrip},
		{Name: "Trip: drivers see the pending trip", Run: (*Runner).listPending},
		{Name: "Events: stream attached", Run: (*Runner).attachStream},
		{Name: "Accept: exactly one driver wins", Run: (*Runner).raceAccept},
		{Name: "Session: customer learns the driver", Run: (*Runner).customerSession},
		{Name: "Location: ETA shrinks on approach", Run: (*Runner).approach},
		{Name: "Auth: losing driver cannot cancel", Run: (*Runner).outsiderCancel},
		{Name: "Trip: complete for both parties", Run: (*Runner).complete},
		{Name: "Events: stream saw the whole trip", Run: (*Runner).streamSawTrip},
		{Name: "History: trip listed for customer", Run: (*Runner).history},
		{Name: "Identity: login and logout reset the session", Run: (*Runner).loginLogout},
	}
}

func (r *Runner) checkHealth(ctx context.Context) Result {
	if r.cfg.BaseURL == "" {
		return Result{Status: StatusSkip, Note: "base-url not set"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fail("%v", err)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return fail("%v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fail("status %d", resp.StatusCode)
	}
	return Result{Status: StatusPass}
}

func (r *Runner) checkBackends(ctx context.Context) Result {
	store, reg := "memory", "blob"
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fail("redis: %v", err)
		}
		store = "redis"
	}
	if r.db != nil {
		if err := r.db.Ping(ctx); err != nil {
			return fail("postgres: %v", err)
		}
		reg = "postgres"
	}
	return Result{Status: StatusPass, Note: "store=" + store + " registry=" + reg}
}

func (r *Runner) bookTrip(ctx context.Context) Result {
	res, err := r.trips.CreateTrip(as(ctx, customer), taxi.TripInput{
		Customer:    registry.Party{ID: customer.ID, Name: customer.Name},
		Pickup:      pickup,
		Destination: destination,
	})
	if err != nil {
		return fail("%v", err)
	}
	r.trip = res.Value
	if r.trip.Fare.IsZero() {
		return fail("fare was not estimated")
	}
	st := r.pool.Session(customer.ID).Snapshot()
	if !st.IsSearchingDriver || st.TripData.RequestID != r.trip.ID {
		return fail("customer session not searching: %+v", st)
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("trip=%s fare=%s source=%s", r.trip.ID, r.trip.Fare, res.Source)}
}

func (r *Runner) listPending(ctx context.Context) Result {
	if r.trip == nil {
		return Result{Status: StatusSkip, Note: "no trip"}
	}
	res, err := r.trips.GetPendingTrips(as(ctx, driver(0)))
	if err != nil {
		return fail("%v", err)
	}
	for _, t := range res.Value {
		if t.ID == r.trip.ID {
			return Result{Status: StatusPass, Note: fmt.Sprintf("pending=%d source=%s", len(res.Value), res.Source)}
		}
	}
	return fail("trip %s not in %d pending trips", r.trip.ID, len(res.Value))
}

func (r *Runner) attachStream(ctx context.Context) Result {
	if r.trip == nil {
		return Result{Status: StatusSkip, Note: "no trip"}
	}
	sctx, cancel := context.WithCancel(ctx)
	r.stopStream = cancel
	go func() {
		_ = r.events.Stream(sctx, r.hub, broadcast.Filter{TripID: r.trip.ID}, 0, func(e broadcast.Event) error {
			r.streamMu.Lock()
			r.streamed = append(r.streamed, e)
			r.streamMu.Unlock()
			return nil
		})
	}()
	return Result{Status: StatusPass}
}

func (r *Runner) raceAccept(ctx context.Context) Result {
	if r.trip == nil {
		return Result{Status: StatusSkip, Note: "no trip"}
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []identity.User
		losers  int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < r.cfg.Drivers; i++ {
		d := driver(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.trips.AcceptTrip(as(ctx, d), r.trip.ID, d.ID, d.Name)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, d)
			case errors.Is(err, registry.ErrConflict), errors.Is(err, registry.ErrInvalidState):
				losers++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		return fail("unexpected error: %v", other[0])
	}
	if len(winners) != 1 {
		return fail("%d winners", len(winners))
	}
	r.winner = winners[0]
	return Result{Status: StatusPass, Note: fmt.Sprintf("winner=%s losers=%d", r.winner.ID, losers)}
}

func (r *Runner) customerSession(context.Context) Result {
	if r.winner.ID == "" {
		return Result{Status: StatusSkip, Note: "no winner"}
	}
	st := r.pool.Session(customer.ID).Snapshot()
	if !st.DriverFound || st.IsSearchingDriver || st.TripData.DriverID != r.winner.ID {
		return fail("customer session %+v", st.TripData)
	}
	ds := r.pool.Session(r.winner.ID).Snapshot()
	if !ds.TripData.IsActive || ds.TripData.RequestID != r.trip.ID {
		return fail("driver session %+v", ds.TripData)
	}
	return Result{Status: StatusPass}
}

// approach moves the winning driver from north of the pickup onto it in equal steps.
func (r *Runner) approach(ctx context.Context) Result {
	if r.winner.ID == "" {
		return Result{Status: StatusSkip, Note: "no winner"}
	}
	dctx := as(ctx, r.winner)
	start := types.Point{Lat: pickup.Coordinates.Lat + 0.02, Lng: pickup.Coordinates.Lng}
	speed := 10.0
	last := int64(-1)
	var etas []int64
	for i := 0; i <= r.cfg.Steps; i++ {
		f := float64(i) / float64(r.cfg.Steps)
		lat := start.Lat + (pickup.Coordinates.Lat-start.Lat)*f
		lng := start.Lng + (pickup.Coordinates.Lng-start.Lng)*f
		if _, err := r.locations.UpdateUserLocation(dctx, r.winner.ID, identity.RoleDriver, location.Fix{
			Latitude: &lat, Longitude: &lng, Speed: &speed,
		}, r.trip.ID); err != nil {
			return fail("update %d: %v", i, err)
		}
		eta, err := r.locations.CalculateETA(dctx, r.trip.ID)
		if err != nil {
			return fail("eta %d: %v", i, err)
		}
		if last >= 0 && eta.EtaSeconds > last {
			return fail("eta grew from %d to %d", last, eta.EtaSeconds)
		}
		last = eta.EtaSeconds
		etas = append(etas, eta.EtaSeconds)
	}
	if last != 0 {
		return fail("eta at pickup is %d", last)
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("eta=%v", etas)}
}

func (r *Runner) outsiderCancel(ctx context.Context) Result {
	if r.winner.ID == "" {
		return Result{Status: StatusSkip, Note: "no winner"}
	}
	loser := driver(0)
	if loser.ID == r.winner.ID {
		loser = driver(1)
	}
	_, err := r.trips.CancelTrip(as(ctx, loser), r.trip.ID, "not mine")
	if !errors.Is(err, registry.ErrForbidden) {
		return fail("expected forbidden for %s, got %v", loser.ID, err)
	}
	got, err := r.registry.GetRequestByID(ctx, r.trip.ID)
	if err != nil {
		return fail("%v", err)
	}
	if got.Status != registry.StatusAccepted {
		return fail("trip moved to %s", got.Status)
	}
	return Result{Status: StatusPass, Note: string(loser.ID)}
}

func (r *Runner) complete(ctx context.Context) Result {
	if r.winner.ID == "" {
		return Result{Status: StatusSkip, Note: "no winner"}
	}
	res, err := r.trips.UpdateTripStatus(as(ctx, r.winner), r.trip.ID, registry.StatusCompleted)
	if err != nil {
		return fail("%v", err)
	}
	if res.Value.Status != registry.StatusCompleted {
		return fail("status %s", res.Value.Status)
	}
	for _, id := range []types.ID{customer.ID, r.winner.ID} {
		st := r.pool.Session(id).Snapshot()
		if st.TripData.IsActive || !st.NeedsNewOrder {
			return fail("session of %s still active", id)
		}
	}
	return Result{Status: StatusPass}
}

func (r *Runner) streamSawTrip(ctx context.Context) Result {
	if r.stopStream == nil {
		return Result{Status: StatusSkip, Note: "no stream"}
	}
	want := []broadcast.Type{
		broadcast.TypeTripCreated,
		broadcast.TypeTripAccepted,
		broadcast.TypeDriverLocation,
		broadcast.TypeTripStatus,
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		seen := map[broadcast.Type]int{}
		r.streamMu.Lock()
		n := len(r.streamed)
		for _, e := range r.streamed {
			seen[e.Type]++
		}
		r.streamMu.Unlock()

		missing := ""
		for _, t := range want {
			if seen[t] == 0 {
				missing = string(t)
				break
			}
		}
		if missing == "" {
			return Result{Status: StatusPass, Note: fmt.Sprintf("events=%d", n)}
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return fail("missing %s after %d events", missing, n)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (r *Runner) history(ctx context.Context) Result {
	if r.trip == nil {
		return Result{Status: StatusSkip, Note: "no trip"}
	}
	res, err := r.trips.GetTripHistory(as(ctx, customer), customer.ID)
	if err != nil {
		return fail("%v", err)
	}
	for _, t := range res.Value {
		if t.ID == r.trip.ID {
			return Result{Status: StatusPass, Note: fmt.Sprintf("history=%d", len(res.Value))}
		}
	}
	return fail("trip %s missing from history", r.trip.ID)
}

func (r *Runner) loginLogout(ctx context.Context) Result {
	scoped := identity.WithUser(ctx, customer)
	if err := r.users.Login(scoped, customer, "sim-stored-token"); err != nil {
		return fail("login: %v", err)
	}
	// Background calls have no request token and fall back to the stored login.
	if tok, err := r.tokens.Token(ctx); err != nil || tok != "sim-stored-token" {
		return fail("stored token %q, %v", tok, err)
	}

	r.pool.Session(customer.ID).StartTrip(session.Details{RequestID: "sim-after-login", Origin: pickup.Name, Destination: destination.Name})
	if err := r.users.Logout(scoped); err != nil {
		return fail("logout: %v", err)
	}
	if st := r.pool.Session(customer.ID).Snapshot(); st.TripData.IsActive {
		return fail("session still active after logout")
	}
	if _, err := r.tokens.Token(ctx); !errors.Is(err, taxi.ErrNoToken) {
		return fail("token survived logout: %v", err)
	}
	return Result{Status: StatusPass}
}
