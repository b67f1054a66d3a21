// README: In-process fan-out of broadcast events to filtered subscribers.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"ridesync/internal/observability"
)

const DefaultBuffer = 64

type Subscription struct {
	hub    *Hub
	filter Filter
	ch     chan Event
	lagged atomic.Bool
}

// Events is closed when the subscription ends, either by Close or because it lagged.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Lagged reports whether the hub dropped this subscriber for falling behind.
func (s *Subscription) Lagged() bool {
	return s.lagged.Load()
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	log    *slog.Logger
}

func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: map[*Subscription]struct{}{}, buffer: buffer, log: log.With("component", "hub")}
}

func (h *Hub) Subscribe(f Filter) *Subscription {
	s := &Subscription{hub: h, filter: f, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	observability.HubSubscribers.Inc()
	return s
}

// Publish never blocks: a subscriber with a full buffer is closed and flagged as lagged.
func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.lagged.Store(true)
			h.dropLocked(s)
			observability.HubLagged.Inc()
			h.log.Warn("subscriber lagged", "trip_id", s.filter.TripID, "user_id", s.filter.UserID, "seq", e.Seq)
		}
	}
	return nil
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s)
}

func (h *Hub) dropLocked(s *Subscription) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	observability.HubSubscribers.Dec()
}
