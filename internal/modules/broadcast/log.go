// README: Capped broadcast log persisted in the KV store and mirrored to a Publisher.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ridesync/internal/kv"
	"ridesync/internal/modules/registry"
	"ridesync/internal/observability"
	"ridesync/internal/types"
)

const (
	EventsKey = "broadcast_events"
	// SeqKey holds the last assigned sequence number. Clear leaves it in place so
	// sequence numbers never repeat.
	SeqKey    = "broadcast_seq"
	MaxEvents = 20
)

// Publisher receives every event after it has been stored.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Fanout publishes to each publisher in order and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Log struct {
	kv  kv.Store
	pub Publisher
	log *slog.Logger
	now func() time.Time
}

func NewLog(store kv.Store, pub Publisher, log *slog.Logger) *Log {
	return &Log{kv: store, pub: pub, log: log.With("component", "broadcast"), now: time.Now}
}

// BroadcastTripUpdate records a snapshot of the request, keyed by its customer and driver.
func (l *Log) BroadcastTripUpdate(ctx context.Context, r *registry.Request) (Event, error) {
	if r == nil {
		return Event{}, fmt.Errorf("broadcast trip update: nil request")
	}
	var driverID types.ID
	if r.DriverID != nil {
		driverID = *r.DriverID
	}
	return l.BroadcastTripEvent(ctx, TypeTripUpdate, r.ID, driverID, r.Customer.ID, r)
}

// BroadcastTripEvent records an event with explicit actor ids. data may be nil.
func (l *Log) BroadcastTripEvent(ctx context.Context, typ Type, tripID, driverID, customerID types.ID, data any) (Event, error) {
	e := Event{Type: typ, TripID: tripID, DriverID: driverID, CustomerID: customerID}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("encode event payload: %w", err)
		}
		e.Payload = b
	}
	return l.Append(ctx, e)
}

// Append assigns id, timestamp and sequence, stores the event and publishes it.
// A publish failure is logged; the event is already durable in the log.
func (l *Log) Append(ctx context.Context, e Event) (Event, error) {
	e.ID = uuid.NewString()
	if e.Timestamp == 0 {
		e.Timestamp = types.Millis(l.now())
	}

	seq, err := l.nextSeq(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("append broadcast event: %w", err)
	}
	e.Seq = seq

	var evicted int
	err = kv.UpdateJSON(ctx, l.kv, EventsKey, func(events *[]Event) error {
		evicted = 0
		all := insertBySeq(*events, e)
		if over := len(all) - MaxEvents; over > 0 {
			evicted = over
			all = all[over:]
		}
		*events = all
		return nil
	})
	if err != nil {
		return Event{}, fmt.Errorf("append broadcast event: %w", err)
	}

	observability.BroadcastEvents.WithLabelValues(string(e.Type)).Inc()
	if evicted > 0 {
		observability.BroadcastEvicted.Add(float64(evicted))
	}
	if l.pub != nil {
		if err := l.pub.Publish(ctx, e); err != nil {
			l.log.Warn("event publish failed", "event_id", e.ID, "type", e.Type, "err", err)
		}
	}
	return e, nil
}

func (l *Log) nextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := kv.UpdateJSON(ctx, l.kv, SeqKey, func(n *int64) error {
		*n++
		seq = *n
		return nil
	})
	return seq, err
}

// insertBySeq keeps the log ordered when concurrent appenders store out of order.
func insertBySeq(events []Event, e Event) []Event {
	i := len(events)
	for i > 0 && events[i-1].Seq > e.Seq {
		i--
	}
	events = append(events, Event{})
	copy(events[i+1:], events[i:])
	events[i] = e
	return events
}

func (l *Log) all(ctx context.Context) ([]Event, error) {
	var events []Event
	if _, err := kv.GetJSON(ctx, l.kv, EventsKey, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetLatestEvents returns events newer than since (epoch millis), oldest first.
func (l *Log) GetLatestEvents(ctx context.Context, since int64) ([]Event, error) {
	return l.filter(ctx, func(e Event) bool { return e.Timestamp > since })
}

// GetTripEventsForUser is GetLatestEvents limited to events where the user is the
// customer or the driver.
func (l *Log) GetTripEventsForUser(ctx context.Context, userID types.ID, since int64) ([]Event, error) {
	return l.filter(ctx, func(e Event) bool { return e.Timestamp > since && e.Involves(userID) })
}

// EventsAfter returns events with Seq greater than seq. Used to resume a lagged stream.
func (l *Log) EventsAfter(ctx context.Context, seq int64, f Filter) ([]Event, error) {
	return l.filter(ctx, func(e Event) bool { return e.Seq > seq && f.Match(e) })
}

func (l *Log) filter(ctx context.Context, keep func(Event) bool) ([]Event, error) {
	events, err := l.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Clear empties the log. Sequence numbering continues where it left off.
func (l *Log) Clear(ctx context.Context) error {
	return l.kv.Remove(ctx, EventsKey)
}
