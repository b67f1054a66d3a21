// README: REST client for the remote trip API, with one-time accept endpoint negotiation.
package taxi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"ridesync/internal/modules/location"
	"ridesync/internal/types"
)

var (
	ErrNoBaseURL = errors.New("remote api not configured")
	// ErrNoAcceptEndpoint means every known accept shape answered 404/405.
	ErrNoAcceptEndpoint = errors.New("no accept endpoint found")
)

// StatusError is a non-2xx answer from the remote API.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// RemoteTrip is the server's trip representation. Servers disagree on the id field name.
type RemoteTrip struct {
	ID              string  `json:"id,omitempty"`
	TripID          string  `json:"trip_id,omitempty"`
	Status          string  `json:"status,omitempty"`
	CustomerID      string  `json:"customer_id,omitempty"`
	CustomerName    string  `json:"customer_name,omitempty"`
	DriverID        string  `json:"driver_id,omitempty"`
	DriverName      string  `json:"driver_name,omitempty"`
	PickupName      string  `json:"pickup_location,omitempty"`
	PickupLat       float64 `json:"pickup_lat,omitempty"`
	PickupLng       float64 `json:"pickup_lng,omitempty"`
	DestinationName string  `json:"destination,omitempty"`
	DestinationLat  float64 `json:"destination_lat,omitempty"`
	DestinationLng  float64 `json:"destination_lng,omitempty"`
	Fare            int64   `json:"fare,omitempty"`
	CreatedAt       int64   `json:"created_at,omitempty"`
}

func (t RemoteTrip) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.TripID
}

type acceptShape struct {
	method string
	path   string // %s is the trip id
	query  bool   // id goes in ?trip_id= instead of the path
}

// acceptShapes are the endpoint variants seen across server versions, in probe order.
var acceptShapes = func() []acceptShape {
	paths := []acceptShape{
		{path: "/trips/%s/accept"},
		{path: "/trips/accept/%s"},
		{path: "/trips/%s/accept-trip"},
		{path: "/trip/%s/accept"},
		{path: "/trips/accept", query: true},
		{path: "/driver/trips/%s/accept"},
	}
	var out []acceptShape
	for _, p := range paths {
		for _, m := range []string{http.MethodPost, http.MethodGet} {
			s := p
			s.method = m
			out = append(out, s)
		}
	}
	return out
}()

func (s acceptShape) target(tripID string) (string, url.Values) {
	if s.query {
		return s.path, url.Values{"trip_id": {tripID}}
	}
	return fmt.Sprintf(s.path, url.PathEscape(tripID)), nil
}

type Client struct {
	base   string
	httpc  *http.Client
	tokens *TokenSource
	log    *slog.Logger

	mu     sync.Mutex
	pinned *acceptShape
	probes int
}

func NewClient(baseURL string, tokens *TokenSource, log *slog.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		httpc:  &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
		log:    log.With("component", "trip_api"),
	}
}

// Configured reports whether a base URL was set.
func (c *Client) Configured() bool {
	return c != nil && c.base != ""
}

type CreateTripRequest struct {
	CustomerID      string  `json:"customer_id"`
	CustomerName    string  `json:"customer_name,omitempty"`
	PickupName      string  `json:"pickup_location"`
	PickupLat       float64 `json:"pickup_lat"`
	PickupLng       float64 `json:"pickup_lng"`
	DestinationName string  `json:"destination"`
	DestinationLat  float64 `json:"destination_lat"`
	DestinationLng  float64 `json:"destination_lng"`
	Fare            int64   `json:"fare"`
}

func (c *Client) CreateTrip(ctx context.Context, in CreateTripRequest) (*RemoteTrip, error) {
	var out RemoteTrip
	if err := c.do(ctx, http.MethodPost, "/trips", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptTrip probes the accept shapes until one exists, then uses only that one.
// A shape "exists" when it answers anything but 404 or 405.
func (c *Client) AcceptTrip(ctx context.Context, tripID string, driverID types.ID) (*RemoteTrip, error) {
	body := map[string]string{"driver_id": string(driverID)}

	c.mu.Lock()
	pinned := c.pinned
	c.mu.Unlock()
	if pinned != nil {
		return c.accept(ctx, *pinned, tripID, body)
	}

	for _, shape := range acceptShapes {
		c.mu.Lock()
		c.probes++
		c.mu.Unlock()
		trip, err := c.accept(ctx, shape, tripID, body)
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusMethodNotAllowed) {
			continue
		}
		if err != nil && se == nil {
			// Transport or token failure says nothing about the shape.
			return nil, err
		}
		c.pin(shape)
		return trip, err
	}
	return nil, ErrNoAcceptEndpoint
}

func (c *Client) accept(ctx context.Context, s acceptShape, tripID string, body any) (*RemoteTrip, error) {
	path, q := s.target(tripID)
	var out RemoteTrip
	if s.method == http.MethodGet {
		body = nil
	}
	if err := c.do(ctx, s.method, path, q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) pin(s acceptShape) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned == nil {
		c.pinned = &s
		c.log.Info("accept endpoint pinned", "method", s.method, "path", s.path)
	}
}

// Probes is the number of accept shapes tried before one was pinned.
func (c *Client) Probes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probes
}

func (c *Client) UpdateTripStatus(ctx context.Context, tripID, status string) error {
	return c.do(ctx, http.MethodGet, "/trips/status", url.Values{"trip_id": {tripID}, "status": {status}}, nil, nil)
}

func (c *Client) CancelTrip(ctx context.Context, tripID string) error {
	return c.do(ctx, http.MethodGet, "/trips/cancel", url.Values{"trip_id": {tripID}}, nil, nil)
}

func (c *Client) AvailableTrips(ctx context.Context) ([]RemoteTrip, error) {
	return c.list(ctx, "/trips/available")
}

func (c *Client) TripHistory(ctx context.Context) ([]RemoteTrip, error) {
	return c.list(ctx, "/trips/history")
}

func (c *Client) CheckAuth(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/auth/check", nil, nil, nil)
}

func (c *Client) list(ctx context.Context, path string) ([]RemoteTrip, error) {
	var out []RemoteTrip
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Name and Sync let the client act as a location.Syncer.
func (c *Client) Name() string { return "trip_api" }

func (c *Client) Sync(ctx context.Context, r location.Record) error {
	q := url.Values{
		"user_id":   {string(r.UserID)},
		"role":      {string(r.Role)},
		"latitude":  {strconv.FormatFloat(r.Latitude, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(r.Longitude, 'f', -1, 64)},
		"timestamp": {strconv.FormatInt(r.Timestamp, 10)},
	}
	if r.TripID != "" {
		q.Set("trip_id", string(r.TripID))
	}
	return c.do(ctx, http.MethodGet, "/location/update", q, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	if !c.Configured() {
		return ErrNoBaseURL
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return decodeBody(raw, out)
}

// decodeBody accepts the value bare or wrapped in {"data": ...} / {"trip": ...} / {"trips": ...}.
func decodeBody(raw []byte, out any) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err == nil {
		for _, k := range []string{"data", "trip", "trips"} {
			if inner, ok := env[k]; ok {
				return json.Unmarshal(inner, out)
			}
		}
	}
	return json.Unmarshal(raw, out)
}
