// README: Base handler utilities (JSON helpers, caller lookup, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/location"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/modules/registry"
	"ridesync/internal/modules/taxi"
	"ridesync/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts generated ids (req_<millis>), server ids and uuids.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrBadRequest), errors.Is(err, taxi.ErrBadRequest),
		errors.Is(err, pricing.ErrBadRequest), errors.Is(err, location.ErrMissingCoordinates),
		errors.Is(err, location.ErrMissingUser):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrNotAuthenticated):
		writeError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, registry.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, location.ErrNoDriverLocation):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidState), errors.Is(err, registry.ErrConflict),
		errors.Is(err, registry.ErrDuplicateID):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// caller is the user the auth middleware scoped to the request.
func caller(c *gin.Context) (identity.User, bool) {
	return identity.FromContext(c.Request.Context())
}

// pathID reads and validates a path parameter, writing a 400 when it is unusable.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

// queryInt64 returns def when the parameter is absent and false when it is malformed.
func queryInt64(c *gin.Context, name string, def int64) (int64, bool) {
	v := c.Query(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func queryFloat(c *gin.Context, name string) (float64, bool) {
	f, err := strconv.ParseFloat(c.Query(name), 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return f, true
}
