// README: Trip request registry handlers: list, create, accept, status, clear, active lookup.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/registry"
	"ridesync/internal/types"
)

type RequestHandler struct {
	registry *registry.Service
}

func NewRequestHandler(svc *registry.Service) *RequestHandler {
	return &RequestHandler{registry: svc}
}

type placeReq struct {
	Name        string      `json:"name"`
	Coordinates types.Point `json:"coordinates"`
}

func (p placeReq) place() registry.Place {
	return registry.Place{Name: p.Name, Coordinates: p.Coordinates}
}

type createRequestReq struct {
	ID          string   `json:"id"`
	Pickup      placeReq `json:"pickup"`
	Destination placeReq `json:"destination"`
	Fare        int64    `json:"fare"`
}

// List returns claimable requests; ?all=true returns every request.
func (h *RequestHandler) List(c *gin.Context) {
	var (
		reqs []registry.Request
		err  error
	)
	if c.Query("all") == "true" {
		reqs, err = h.registry.GetAllRequests(c.Request.Context())
	} else {
		reqs, err = h.registry.GetRequests(c.Request.Context())
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if reqs == nil {
		reqs = []registry.Request{}
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": reqs})
}

// Create registers a request for the authenticated customer.
func (h *RequestHandler) Create(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ID != "" && !isValidID(req.ID) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	if req.Fare < 0 {
		writeError(c, http.StatusBadRequest, "fare must not be negative")
		return
	}
	created, err := h.registry.CreateRequest(c.Request.Context(), registry.NewRequest{
		ID:          types.ID(req.ID),
		Customer:    registry.Party{ID: user.ID, Name: user.Name},
		Pickup:      req.Pickup.place(),
		Destination: req.Destination.place(),
		Fare:        types.NewMoney(req.Fare),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, created)
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, err := h.registry.GetRequestByID(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, req)
}

// Accept claims the request for the authenticated driver. Losing the race is a 409.
func (h *RequestHandler) Accept(c *gin.Context) {
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
	req, err := h.registry.AcceptRequest(c.Request.Context(), id, user.ID, user.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, req)
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *RequestHandler) UpdateStatus(c *gin.Context) {
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
	req, err := h.registry.UpdateRequestStatus(c.Request.Context(), id, status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, req)
}

func (h *RequestHandler) Clear(c *gin.Context) {
	if err := h.registry.ClearAllRequests(c.Request.Context()); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ActiveForUser returns the caller's active request, or null. Asking about another user is a 403.
func (h *RequestHandler) ActiveForUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, err := h.registry.GetUserActiveRequest(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"request": req})
}
