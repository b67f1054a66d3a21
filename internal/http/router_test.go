// README: End-to-end tests of the HTTP surface against in-memory services.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

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

// tokenVerifier maps raw tokens onto fixed users.
type tokenVerifier map[string]*infra.FirebaseToken

func (v tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	if t, ok := v[raw]; ok {
		return t, nil
	}
	return nil, errors.New("unknown token")
}

var testUsers = tokenVerifier{
	"cust":  {UID: "C", Claims: map[string]interface{}{"role": "customer", "name": "Customer C"}},
	"drv":   {UID: "D", Claims: map[string]interface{}{"role": "driver", "name": "Driver D"}},
	"drv2":  {UID: "E", Claims: map[string]interface{}{"role": "driver", "name": "Driver E"}},
	"cust2": {UID: "F", Claims: map[string]interface{}{"role": "customer", "name": "Customer F"}},
	"admin": {UID: "A", Claims: map[string]interface{}{"role": "admin", "name": "Admin"}},
}

type testEnv struct {
	router   *gin.Engine
	sessions *session.Pool
	users    *identity.Store
	location *location.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := kv.NewMemoryStore()
	users := identity.NewStore(mem, log)
	pool := session.NewPool(nil, log)
	reg := registry.NewService(registry.NewBlobStore(mem), pool, users, log)
	pool.SetPruner(reg)
	hub := broadcast.NewHub(broadcast.DefaultBuffer, log)
	events := broadcast.NewLog(mem, hub, log)
	loc := location.NewService(location.NewStore(mem), reg, events, log)
	prices := pricing.NewService(nil)
	tokens := taxi.NewTokenSource(mem)
	users.OnSessionChange(func(id types.ID) {
		pool.Reset(id)
		tokens.Forget()
	})
	trips := taxi.NewService(taxi.Deps{
		Client:   taxi.NewClient("", tokens, log),
		Tokens:   tokens,
		Registry: reg,
		Sessions: pool,
		Events:   events,
		Pricing:  prices,
		KV:       mem,
		Log:      log,
	})
	t.Cleanup(pool.Wait)
	t.Cleanup(loc.WaitSync)

	r := NewRouter(ServerDeps{
		Registry:       reg,
		Trips:          trips,
		Sessions:       pool,
		Users:          users,
		Location:       loc,
		Pricing:        prices,
		Events:         events,
		Hub:            hub,
		Verifier:       testUsers,
		Log:            log,
		NearbyRadiusKm: 5,
	})
	return &testEnv{router: r, sessions: pool, users: users, location: loc}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type tripBody struct {
	Trip          registry.Request `json:"trip"`
	Source        taxi.Source      `json:"source"`
	UpstreamError string           `json:"upstream_error"`
}

type tripsBody struct {
	Trips  []registry.Request `json:"trips"`
	Source taxi.Source        `json:"source"`
}

var newTrip = map[string]any{
	"pickup":      map[string]any{"name": "Taipei 101", "coordinates": map[string]float64{"latitude": 25.0339, "longitude": 121.5645}},
	"destination": map[string]any{"name": "Main Station", "coordinates": map[string]float64{"latitude": 25.0478, "longitude": 121.5170}},
	"fare":        1500,
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("health: %d %q", w.Code, w.Body.String())
	}
	env.do(t, http.MethodGet, "/health", "", nil)
	w := env.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ridesync_http_requests_total") {
		t.Errorf("metrics missing request counter: %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/requests", "/api/sessions/me", "/api/events", "/api/trips/history"} {
		if w := env.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
		if w := env.do(t, http.MethodGet, path, "forged", nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s forged: expected 401, got %d", path, w.Code)
		}
	}
}

func TestPendingTripsDemoWhenAnonymous(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/trips/pending", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[tripsBody](t, w)
	if body.Source != taxi.SourceDemo || len(body.Trips) != 2 || body.Trips[0].ID != "demo-trip-1" {
		t.Errorf("unexpected demo payload: %+v", body)
	}

	w = env.do(t, http.MethodGet, "/api/trips/pending", "drv", nil)
	if body := decode[tripsBody](t, w); body.Source != taxi.SourceLocal || len(body.Trips) != 0 {
		t.Errorf("signed-in driver should see local data, got %+v", body)
	}
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/trips", "cust", newTrip)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", w.Code, w.Body.String())
	}
	created := decode[tripBody](t, w)
	if created.Source != taxi.SourceLocal || created.Trip.Customer.ID != "C" || created.Trip.Fare.Amount != 1500 {
		t.Fatalf("unexpected create result %+v", created)
	}
	id := string(created.Trip.ID)

	pending := decode[tripsBody](t, env.do(t, http.MethodGet, "/api/trips/pending", "drv", nil))
	if len(pending.Trips) != 1 || string(pending.Trips[0].ID) != id {
		t.Fatalf("expected the new trip to be pending, got %+v", pending)
	}

	if w := env.do(t, http.MethodPost, "/api/trips/"+id+"/accept", "cust", nil); w.Code != http.StatusForbidden {
		t.Errorf("customer accept: expected 403, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/trips/"+id+"/accept", "drv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d %s", w.Code, w.Body.String())
	}
	accepted := decode[tripBody](t, w)
	if accepted.Trip.Status != registry.StatusAccepted || !accepted.Trip.DrivenBy("D") {
		t.Fatalf("unexpected accept result %+v", accepted.Trip)
	}
	if w := env.do(t, http.MethodPost, "/api/trips/"+id+"/accept", "drv2", nil); w.Code != http.StatusConflict {
		t.Errorf("second driver: expected 409, got %d", w.Code)
	}

	active := decode[map[string]*registry.Request](t, env.do(t, http.MethodGet, "/api/trips/active", "drv", nil))
	if active["trip"] == nil || string(active["trip"].ID) != id {
		t.Errorf("driver projection missing: %+v", active)
	}
	sess := decode[map[string]json.RawMessage](t, env.do(t, http.MethodGet, "/api/sessions/me", "drv", nil))
	var st session.State
	if err := json.Unmarshal(sess["state"], &st); err != nil {
		t.Fatal(err)
	}
	if !st.TripData.IsActive || st.TripData.DriverID != "D" {
		t.Errorf("driver session not started: %+v", st)
	}

	w = env.do(t, http.MethodPost, "/api/trips/"+id+"/status", "drv", map[string]string{"status": "COMPLETED"})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d %s", w.Code, w.Body.String())
	}
	if done := decode[tripBody](t, w); done.Trip.Status != registry.StatusCompleted {
		t.Errorf("expected completed, got %s", done.Trip.Status)
	}
	if w := env.do(t, http.MethodPost, "/api/trips/"+id+"/cancel", "cust", nil); w.Code != http.StatusConflict {
		t.Errorf("cancel after completion: expected 409, got %d", w.Code)
	}

	history := decode[tripsBody](t, env.do(t, http.MethodGet, "/api/trips/history", "cust", nil))
	if len(history.Trips) != 1 || string(history.Trips[0].ID) != id {
		t.Errorf("expected the finished trip in history, got %+v", history)
	}

	events := decode[map[string][]broadcast.Event](t, env.do(t, http.MethodGet, "/api/events?trip_id="+id, "cust", nil))
	var seen []broadcast.Type
	for _, e := range events["events"] {
		seen = append(seen, e.Type)
	}
	want := []broadcast.Type{broadcast.TypeTripCreated, broadcast.TypeTripAccepted, broadcast.TypeTripStatus}
	if len(seen) != len(want) {
		t.Fatalf("expected events %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestRequestRoutes(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/requests", "cust", map[string]any{"id": "bad id!"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: expected 400, got %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/requests", "cust", newTrip)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	req := decode[registry.Request](t, w)
	if !strings.HasPrefix(string(req.ID), "req_") || req.Status != registry.StatusPending {
		t.Errorf("unexpected request %+v", req)
	}
	id := string(req.ID)

	if w := env.do(t, http.MethodGet, "/api/requests/nope", "cust", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing request: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/users/D/active-request", "cust", nil); w.Code != http.StatusForbidden {
		t.Errorf("foreign active lookup: expected 403, got %d", w.Code)
	}
	mine := decode[map[string]*registry.Request](t, env.do(t, http.MethodGet, "/api/users/C/active-request", "cust", nil))
	if mine["request"] == nil || string(mine["request"].ID) != id {
		t.Errorf("customer active request: %+v", mine)
	}

	if w := env.do(t, http.MethodPost, "/api/requests/"+id+"/status", "cust", map[string]string{"status": "flying"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown status: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/requests/"+id+"/status", "cust", map[string]string{"status": "accepted"}); w.Code != http.StatusConflict {
		t.Errorf("accepted via status: expected 409, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/requests/"+id+"/accept", "drv", nil); w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", w.Code)
	}
	list := decode[map[string][]registry.Request](t, env.do(t, http.MethodGet, "/api/requests", "drv", nil))
	if len(list["requests"]) != 0 {
		t.Errorf("accepted request should not be claimable: %+v", list)
	}
	all := decode[map[string][]registry.Request](t, env.do(t, http.MethodGet, "/api/requests?all=true", "drv", nil))
	if len(all["requests"]) != 1 {
		t.Errorf("expected one request in the full list, got %d", len(all["requests"]))
	}

	if w := env.do(t, http.MethodDelete, "/api/requests", "cust", nil); w.Code != http.StatusForbidden {
		t.Errorf("clear by customer: expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/requests", "admin", nil); w.Code != http.StatusNoContent {
		t.Errorf("clear by admin: expected 204, got %d", w.Code)
	}
	all = decode[map[string][]registry.Request](t, env.do(t, http.MethodGet, "/api/requests?all=true", "drv", nil))
	if len(all["requests"]) != 0 {
		t.Errorf("expected an empty registry after clear, got %d", len(all["requests"]))
	}
}

func TestLoginLogoutResetsSession(t *testing.T) {
	env := newTestEnv(t)

	env.sessions.Session("C").StartTrip(session.Details{RequestID: "req_1", Origin: "A", Destination: "B"})
	w := env.do(t, http.MethodPost, "/api/sessions/me/login", "cust", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %s", w.Code, w.Body.String())
	}
	if st := env.sessions.Session("C").Snapshot(); st.TripData.IsActive {
		t.Errorf("login should reset the session, got %+v", st)
	}
	stored, err := env.users.StoredUser(context.Background())
	if err != nil || stored.ID != "C" || stored.Role != identity.RoleCustomer {
		t.Fatalf("expected C stored after login, got %+v %v", stored, err)
	}

	env.sessions.Session("C").StartTrip(session.Details{RequestID: "req_2", Origin: "A", Destination: "B"})
	if w := env.do(t, http.MethodPost, "/api/sessions/me/logout", "drv", nil); w.Code != http.StatusNoContent {
		t.Fatalf("logout by D: expected 204, got %d", w.Code)
	}
	if st := env.sessions.Session("C").Snapshot(); !st.TripData.IsActive {
		t.Errorf("D's logout must not touch C's session, got %+v", st)
	}
	if _, err := env.users.StoredUser(context.Background()); err != nil {
		t.Errorf("D's logout must keep C's stored login: %v", err)
	}

	if w := env.do(t, http.MethodPost, "/api/sessions/me/logout", "cust", nil); w.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", w.Code)
	}
	if st := env.sessions.Session("C").Snapshot(); st.TripData.IsActive {
		t.Errorf("logout should reset the session, got %+v", st)
	}
	if _, err := env.users.StoredUser(context.Background()); !errors.Is(err, identity.ErrNotAuthenticated) {
		t.Errorf("expected stored login removed, got %v", err)
	}
	if w := env.do(t, http.MethodPost, "/api/sessions/me/logout", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous logout: expected 401, got %d", w.Code)
	}
}

func TestNonParticipantsForbidden(t *testing.T) {
	env := newTestEnv(t)

	created := decode[tripBody](t, env.do(t, http.MethodPost, "/api/trips", "cust", newTrip))
	id := string(created.Trip.ID)

	// Any driver may look at a claimable request; other customers may not.
	if w := env.do(t, http.MethodGet, "/api/requests/"+id, "drv2", nil); w.Code != http.StatusOK {
		t.Errorf("driver reading pending request: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/requests/"+id, "cust2", nil); w.Code != http.StatusForbidden {
		t.Errorf("other customer reading request: expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/trips/"+id+"/cancel", "cust2", nil); w.Code != http.StatusForbidden {
		t.Errorf("other customer cancelling pending trip: expected 403, got %d", w.Code)
	}

	if w := env.do(t, http.MethodPost, "/api/trips/"+id+"/accept", "drv", nil); w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", w.Code)
	}

	checks := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"complete trip", http.MethodPost, "/api/trips/" + id + "/status", map[string]string{"status": "completed"}},
		{"cancel trip", http.MethodPost, "/api/trips/" + id + "/cancel", nil},
		{"request status", http.MethodPost, "/api/requests/" + id + "/status", map[string]string{"status": "cancelled"}},
		{"read request", http.MethodGet, "/api/requests/" + id, nil},
		{"trip locations", http.MethodGet, "/api/locations/trips/" + id, nil},
		{"trip eta", http.MethodGet, "/api/locations/trips/" + id + "/eta", nil},
		{"trip-scoped location", http.MethodPost, "/api/locations", map[string]any{"latitude": 25.03, "longitude": 121.56, "tripId": id}},
		{"clear registry", http.MethodDelete, "/api/requests", nil},
	}
	for _, tc := range checks {
		if w := env.do(t, tc.method, tc.path, "drv2", tc.body); w.Code != http.StatusForbidden {
			t.Errorf("%s by unrelated driver: expected 403, got %d %s", tc.name, w.Code, w.Body.String())
		}
	}

	all := decode[map[string][]registry.Request](t, env.do(t, http.MethodGet, "/api/requests?all=true", "drv2", nil))
	if len(all["requests"]) != 0 {
		t.Errorf("unrelated driver should see none of the requests, got %d", len(all["requests"]))
	}
	mine := decode[map[string][]registry.Request](t, env.do(t, http.MethodGet, "/api/requests?all=true", "cust", nil))
	if len(mine["requests"]) != 1 || mine["requests"][0].Status != registry.StatusAccepted || !mine["requests"][0].DrivenBy("D") {
		t.Errorf("customer's trip should be untouched, got %+v", mine["requests"])
	}
}

func TestSessionRoutes(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/api/sessions/me/cancel", "cust", nil); w.Code != http.StatusConflict {
		t.Errorf("cancel without trip: expected 409, got %d", w.Code)
	}

	env.sessions.Session("C").StartTrip(session.Details{RequestID: "req_1", Origin: "A", Destination: "B"})
	check := decode[map[string]json.RawMessage](t, env.do(t, http.MethodPost, "/api/sessions/me/check", "cust", nil))
	if string(check["isActive"]) != "true" {
		t.Errorf("expected active session, got %s", check["isActive"])
	}

	w := env.do(t, http.MethodPost, "/api/sessions/me/cancel", "cust", map[string]string{"reason": "changed mind"})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}
	st := env.sessions.Session("C").Snapshot()
	if st.TripData.IsActive || !st.NeedsNewOrder {
		t.Errorf("unexpected state after cancel %+v", st)
	}

	if w := env.do(t, http.MethodPost, "/api/sessions/me/start-order-flow", "cust", nil); w.Code != http.StatusOK {
		t.Errorf("start-order-flow: expected 200, got %d", w.Code)
	}
	if st := env.sessions.Session("C").Snapshot(); st.NeedsNewOrder {
		t.Errorf("start-order-flow should reset to baseline, got %+v", st)
	}
}

func TestLocationRoutes(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/api/locations", "drv", map[string]any{"latitude": 25.03}); w.Code != http.StatusBadRequest {
		t.Errorf("missing longitude: expected 400, got %d", w.Code)
	}

	created := decode[tripBody](t, env.do(t, http.MethodPost, "/api/trips", "cust", newTrip))
	id := string(created.Trip.ID)
	env.do(t, http.MethodPost, "/api/trips/"+id+"/accept", "drv", nil)

	w := env.do(t, http.MethodPost, "/api/locations", "drv", map[string]any{
		"latitude": 25.0339, "longitude": 121.5645, "speed": 10.0, "tripId": id,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d %s", w.Code, w.Body.String())
	}
	rec := decode[location.Record](t, w)
	if rec.Role != identity.RoleDriver || rec.UserID != "D" {
		t.Errorf("location stored under the wrong identity: %+v", rec)
	}

	if w := env.do(t, http.MethodGet, "/api/locations/users/driver/D", "cust", nil); w.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/locations/users/customer/C", "cust", nil); w.Code != http.StatusNotFound {
		t.Errorf("unreported customer: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/locations/users/pilot/D", "cust", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad role: expected 400, got %d", w.Code)
	}
	hist := decode[map[string][]location.Record](t, env.do(t, http.MethodGet, "/api/locations/users/driver/D/history", "cust", nil))
	if len(hist["history"]) != 1 {
		t.Errorf("expected one history entry, got %d", len(hist["history"]))
	}
	trip := decode[location.TripLocations](t, env.do(t, http.MethodGet, "/api/locations/trips/"+id, "cust", nil))
	if trip.Driver == nil || trip.Customer != nil {
		t.Errorf("unexpected trip locations %+v", trip)
	}

	eta := decode[location.ETA](t, env.do(t, http.MethodGet, "/api/locations/trips/"+id+"/eta", "cust", nil))
	if eta.Target != location.TargetPickup || eta.EtaSeconds != 0 || eta.DistanceRemaining != 0 {
		t.Errorf("driver at pickup should give zero ETA, got %+v", eta)
	}

	near := decode[map[string][]location.Nearby](t, env.do(t, http.MethodGet, "/api/locations/nearby?lat=25.04&lng=121.56", "cust", nil))
	if len(near["drivers"]) != 1 {
		t.Errorf("expected one nearby driver, got %d", len(near["drivers"]))
	}
	if w := env.do(t, http.MethodGet, "/api/locations/nearby?lat=x&lng=1", "cust", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad lat: expected 400, got %d", w.Code)
	}
}

func TestPricingEstimate(t *testing.T) {
	env := newTestEnv(t)
	at := time.Date(2025, 3, 3, 12, 0, 0, 0, time.Local)
	w := env.do(t, http.MethodPost, "/api/pricing/estimate", "cust", map[string]any{
		"distance_km": 1.0, "duration_min": 4, "request_time": at,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	body := decode[map[string]any](t, w)
	if body["total"].(float64) != 97 || body["currency"] != "TWD" {
		t.Errorf("unexpected estimate %+v", body)
	}
	if w := env.do(t, http.MethodPost, "/api/pricing/estimate", "cust", map[string]any{"distance_km": -1}); w.Code != http.StatusBadRequest {
		t.Errorf("negative distance: expected 400, got %d", w.Code)
	}
}

func TestEventStreamWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	created := decode[tripBody](t, env.do(t, http.MethodPost, "/api/trips", "cust", newTrip))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/stream?access_token=cust"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	read := func() broadcast.Event {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var e broadcast.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v", err)
		}
		return e
	}

	// Replayed from the log.
	if e := read(); e.Type != broadcast.TypeTripCreated || e.TripID != created.Trip.ID {
		t.Fatalf("expected replayed TRIP_CREATED, got %+v", e)
	}
	// Delivered live through the hub.
	env.do(t, http.MethodPost, "/api/trips/"+string(created.Trip.ID)+"/accept", "drv", nil)
	if e := read(); e.Type != broadcast.TypeTripAccepted || e.DriverID != "D" {
		t.Fatalf("expected live TRIP_ACCEPTED, got %+v", e)
	}
}
