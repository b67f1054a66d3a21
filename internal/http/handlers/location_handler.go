// README: Location handlers: report, read, history, trip positions, ETA and nearby drivers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/location"
	"ridesync/internal/types"
)

type LocationHandler struct {
	location     *location.Service
	nearbyRadius float64
}

func NewLocationHandler(svc *location.Service, nearbyRadiusKm float64) *LocationHandler {
	return &LocationHandler{location: svc, nearbyRadius: nearbyRadiusKm}
}

type updateLocationReq struct {
	location.Fix
	TripID string `json:"tripId"`
}

// Update stores a sample for the caller under the caller's own role. Only the
// authenticated user can report their own position.
func (h *LocationHandler) Update(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req updateLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TripID != "" && !isValidID(req.TripID) {
		writeError(c, http.StatusBadRequest, "invalid tripId")
		return
	}
	rec, err := h.location.UpdateUserLocation(c.Request.Context(), user.ID, user.Role, req.Fix, types.ID(req.TripID))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func roleParam(c *gin.Context) (identity.Role, bool) {
	switch r := identity.Role(c.Param("role")); r {
	case identity.RoleDriver, identity.RoleCustomer:
		return r, true
	}
	writeError(c, http.StatusBadRequest, "role must be driver or customer")
	return "", false
}

func (h *LocationHandler) Get(c *gin.Context) {
	role, ok := roleParam(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.location.GetUserLocation(c.Request.Context(), id, role)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if rec == nil {
		writeError(c, http.StatusNotFound, "no location reported")
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (h *LocationHandler) History(c *gin.Context) {
	role, ok := roleParam(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	recs, err := h.location.GetUserLocationHistory(c.Request.Context(), id, role)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if recs == nil {
		recs = []location.Record{}
	}
	writeJSON(c, http.StatusOK, gin.H{"history": recs})
}

func (h *LocationHandler) Trip(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	locs, err := h.location.GetTripLocations(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, locs)
}

func (h *LocationHandler) ETA(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	eta, err := h.location.CalculateETA(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, eta)
}

// Nearby takes ?lat=&lng= and an optional ?radius_km=.
func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, ok := queryFloat(c, "lat")
	if !ok {
		return
	}
	lng, ok := queryFloat(c, "lng")
	if !ok {
		return
	}
	radius := h.nearbyRadius
	if c.Query("radius_km") != "" {
		if radius, ok = queryFloat(c, "radius_km"); !ok {
			return
		}
	}
	drivers, err := h.location.NearbyDrivers(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if drivers == nil {
		drivers = []location.Nearby{}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers})
}
