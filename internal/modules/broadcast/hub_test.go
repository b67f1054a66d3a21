package broadcast

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) (Event, bool) {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		return e, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, false
	}
}

func TestHubFiltersByTrip(t *testing.T) {
	h := NewHub(4, discardLogger())
	ctx := context.Background()
	t1 := h.Subscribe(Filter{TripID: "t1"})
	defer t1.Close()
	all := h.Subscribe(Filter{})
	defer all.Close()

	_ = h.Publish(ctx, Event{ID: "a", TripID: "t2"})
	_ = h.Publish(ctx, Event{ID: "b", TripID: "t1"})

	if e, _ := recv(t, t1); e.ID != "b" {
		t.Fatalf("trip subscriber got %s, want b", e.ID)
	}
	if e, _ := recv(t, all); e.ID != "a" {
		t.Fatalf("catch-all got %s, want a", e.ID)
	}
	if e, _ := recv(t, all); e.ID != "b" {
		t.Fatalf("catch-all got %s, want b", e.ID)
	}
}

func TestHubFiltersByUser(t *testing.T) {
	h := NewHub(4, discardLogger())
	sub := h.Subscribe(Filter{UserID: "d1"})
	defer sub.Close()

	_ = h.Publish(context.Background(), Event{ID: "x", CustomerID: "c9"})
	_ = h.Publish(context.Background(), Event{ID: "y", DriverID: "d1"})
	if e, _ := recv(t, sub); e.ID != "y" {
		t.Fatalf("got %s, want y", e.ID)
	}
}

func TestHubLaggedSubscriberClosed(t *testing.T) {
	h := NewHub(2, discardLogger())
	slow := h.Subscribe(Filter{})

	for _, id := range []string{"1", "2", "3"} {
		if err := h.Publish(context.Background(), Event{ID: id}); err != nil {
			t.Fatalf("publish must not fail: %v", err)
		}
	}
	if !slow.Lagged() {
		t.Fatal("expected subscriber flagged as lagged")
	}
	if h.Len() != 0 {
		t.Fatalf("expected lagged subscriber removed, %d left", h.Len())
	}
	// Buffered events are still readable before the close is observed.
	for _, want := range []string{"1", "2"} {
		if e, ok := recv(t, slow); !ok || e.ID != want {
			t.Fatalf("got %q ok=%v, want %s", e.ID, ok, want)
		}
	}
	if _, ok := recv(t, slow); ok {
		t.Fatal("expected closed channel")
	}
	slow.Close()
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	h := NewHub(1, discardLogger())
	s := h.Subscribe(Filter{})
	s.Close()
	s.Close()
	if s.Lagged() {
		t.Fatal("explicit close is not lag")
	}
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Len())
	}
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(2)
	if d.Seen("a") || d.Seen("b") {
		t.Fatal("first sightings must be new")
	}
	if !d.Seen("a") {
		t.Fatal("expected a to be a duplicate")
	}
	d.Seen("c")
	if d.Seen("a") {
		t.Fatal("a should have been evicted")
	}
}
