// README: Event handlers: poll the broadcast log or stream it over a WebSocket.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridesync/internal/modules/broadcast"
	"ridesync/internal/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

type EventHandler struct {
	events   *broadcast.Log
	hub      *broadcast.Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewEventHandler(events *broadcast.Log, hub *broadcast.Hub, log *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		hub:    hub,
		log:    log.With("component", "events_ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Poll returns the caller's events newer than ?since= (epoch millis), oldest first.
// ?trip_id= narrows the result to one trip.
func (h *EventHandler) Poll(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	since, ok := queryInt64(c, "since", 0)
	if !ok {
		return
	}
	events, err := h.events.GetTripEventsForUser(c.Request.Context(), user.ID, since)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]broadcast.Event, 0, len(events))
	trip := types.ID(c.Query("trip_id"))
	for _, e := range events {
		if trip == "" || e.TripID == trip {
			out = append(out, e)
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"events": out})
}

// Stream upgrades to a WebSocket and pushes every event involving the caller, starting
// after ?from_seq=. Reconnecting clients pass the last seq they saw.
func (h *EventHandler) Stream(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	fromSeq, ok := queryInt64(c, "from_seq", 0)
	if !ok {
		return
	}
	filter := broadcast.Filter{TripID: types.ID(c.Query("trip_id")), UserID: user.ID}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.readPump(conn, cancel)
	go h.pingPump(ctx, conn)

	err = h.events.Stream(ctx, h.hub, filter, fromSeq, func(e broadcast.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(e)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Info("event stream closed", "user_id", user.ID, "err", err)
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (h *EventHandler) readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHandler) pingPump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
