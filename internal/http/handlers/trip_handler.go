// README: Trip handlers backed by the remote Trip API with local fallback.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/registry"
	"ridesync/internal/modules/taxi"
	"ridesync/internal/types"
)

type TripHandler struct {
	trips *taxi.Service
}

func NewTripHandler(svc *taxi.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

// resultBody tells clients whether the value is live, local or demo data.
func resultBody[T any](r taxi.Result[T]) gin.H {
	body := gin.H{"trip": r.Value, "source": r.Source}
	if msg := r.UpstreamError(); msg != "" {
		body["upstream_error"] = msg
	}
	return body
}

func listBody(r taxi.Result[[]registry.Request]) gin.H {
	trips := r.Value
	if trips == nil {
		trips = []registry.Request{}
	}
	body := gin.H{"trips": trips, "source": r.Source}
	if msg := r.UpstreamError(); msg != "" {
		body["upstream_error"] = msg
	}
	return body
}

type createTripReq struct {
	Pickup      placeReq `json:"pickup"`
	Destination placeReq `json:"destination"`
	Fare        int64    `json:"fare"`
	CarType     string   `json:"car_type"`
	Weather     string   `json:"weather"`
}

// Create books a trip for the authenticated customer. A zero fare is estimated.
func (h *TripHandler) Create(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req createTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Pickup.Name == "" || req.Destination.Name == "" {
		writeError(c, http.StatusBadRequest, "pickup and destination names are required")
		return
	}
	res, err := h.trips.CreateTrip(c.Request.Context(), taxi.TripInput{
		Customer:    registry.Party{ID: user.ID, Name: user.Name},
		Pickup:      req.Pickup.place(),
		Destination: req.Destination.place(),
		Fare:        types.NewMoney(req.Fare),
		CarType:     req.CarType,
		Weather:     req.Weather,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, resultBody(res))
}

// Accept claims the trip for the calling driver.
func (h *TripHandler) Accept(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if user.Role != identity.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.trips.AcceptTrip(c.Request.Context(), id, user.ID, user.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resultBody(res))
}

func (h *TripHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body statusReq
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	status, ok := registry.ParseStatus(body.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown status")
		return
	}
	res, err := h.trips.UpdateTripStatus(c.Request.Context(), id, status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resultBody(res))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *TripHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var body cancelReq
	// An empty body is a cancel without a reason.
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "user_cancel"
	}
	res, err := h.trips.CancelTrip(c.Request.Context(), id, body.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resultBody(res))
}

// Pending is reachable anonymously; signed-out callers get demo trips.
func (h *TripHandler) Pending(c *gin.Context) {
	res, err := h.trips.GetPendingTrips(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, listBody(res))
}

func (h *TripHandler) History(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	res, err := h.trips.GetTripHistory(c.Request.Context(), user.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, listBody(res))
}

// Active returns the caller's active-trip projection, or null.
func (h *TripHandler) Active(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	trip, err := h.trips.ActiveTrip(c.Request.Context(), user.Role, user.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trip": trip})
}

// RemoteStatus checks the caller's token against the Trip API.
func (h *TripHandler) RemoteStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.trips.CheckAuth(c.Request.Context()))
}
