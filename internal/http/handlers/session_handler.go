// README: Session handlers expose the caller's trip session state.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/session"
	"ridesync/internal/modules/taxi"
)

type SessionHandler struct {
	sessions *session.Pool
	users    *identity.Store
}

func NewSessionHandler(pool *session.Pool, users *identity.Store) *SessionHandler {
	return &SessionHandler{sessions: pool, users: users}
}

func (h *SessionHandler) mine(c *gin.Context) (*session.Session, bool) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return nil, false
	}
	return h.sessions.Session(user.ID), true
}

func stateBody(s *session.Session) gin.H {
	return gin.H{
		"state":            s.Snapshot(),
		"remainingSeconds": int64(s.RemainingTime().Seconds()),
	}
}

func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.mine(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, stateBody(s))
}

// Check promotes a waiting trip whose timer elapsed and reports whether it is active.
func (h *SessionHandler) Check(c *gin.Context) {
	s, ok := h.mine(c)
	if !ok {
		return
	}
	active := s.CheckTripActive()
	body := stateBody(s)
	body["isActive"] = active
	writeJSON(c, http.StatusOK, body)
}

func (h *SessionHandler) StartOrderFlow(c *gin.Context) {
	s, ok := h.mine(c)
	if !ok {
		return
	}
	s.StartOrderFlow()
	writeJSON(c, http.StatusOK, stateBody(s))
}

// Cancel answers 409 when there is no active trip to cancel.
func (h *SessionHandler) Cancel(c *gin.Context) {
	s, ok := h.mine(c)
	if !ok {
		return
	}
	var body cancelReq
	_ = c.ShouldBindJSON(&body)
	if !s.CancelTrip(body.Reason) {
		writeError(c, http.StatusConflict, "no active trip")
		return
	}
	writeJSON(c, http.StatusOK, stateBody(s))
}

// Login stores the caller and their bearer token as the device login. Session state is
// reset through the identity hooks.
func (h *SessionHandler) Login(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	ctx := c.Request.Context()
	tok, _ := taxi.TokenFromContext(ctx)
	if err := h.users.Login(ctx, user, tok); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, stateBody(h.sessions.Session(user.ID)))
}

func (h *SessionHandler) Logout(c *gin.Context) {
	if _, ok := caller(c); !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if err := h.users.Logout(c.Request.Context()); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
