package registry

import (
	"testing"
	"time"
)

type fakeClock struct {
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func drainEvents(r *Registry) []Event {
	var events []Event
	for {
		select {
		case event := <-r.Events():
			events = append(events, event)
		default:
			return events
		}
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestRegisterAndHeartbeat(t *testing.T) {
	clock := newFakeClock()
	r := New(DefaultConfig(), clock.now)

	info := r.Register("c1")
	if info.Status != StatusConnected {
		t.Fatalf("expected connected, got %s", info.Status)
	}

	clock.advance(2 * time.Second)
	r.Heartbeat("c1", clock.current.Add(-150*time.Millisecond))

	got, ok := r.Info("c1")
	if !ok {
		t.Fatal("expected entry for c1")
	}
	if !got.LastSeen.Equal(clock.current) {
		t.Fatalf("expected lastSeen updated, got %v", got.LastSeen)
	}
	if got.Latency != 150*time.Millisecond {
		t.Fatalf("expected 150ms latency, got %v", got.Latency)
	}
}

func TestHeartbeatUnknownConnectionIsNoop(t *testing.T) {
	r := New(DefaultConfig(), newFakeClock().now)
	r.Heartbeat("ghost", time.Now())
	r.MarkDisconnected("ghost", "transport closed")
	if events := drainEvents(r); len(events) != 0 {
		t.Fatalf("expected no events, got %v", eventTypes(events))
	}
}

func TestMarkDisconnectedEmitsForBoundConnection(t *testing.T) {
	clock := newFakeClock()
	r := New(DefaultConfig(), clock.now)
	r.Register("c1")
	r.Bind("c1", "g1", "p1")

	r.MarkDisconnected("c1", "transport closed")

	events := drainEvents(r)
	if len(events) != 2 {
		t.Fatalf("expected disconnect + abandoned, got %v", eventTypes(events))
	}
	if events[0].Type != EventConnectionDisconnected || events[0].GameID != "g1" || events[0].PlayerID != "p1" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Type != EventGameAbandoned {
		t.Fatalf("expected gameAbandoned when last connection drops, got %s", events[1].Type)
	}

	info, _ := r.Info("c1")
	if info.Status != StatusDisconnected || info.DisconnectedAt == nil {
		t.Fatal("expected disconnected entry with timestamp")
	}
}

func TestMarkDisconnectedTwiceEmitsOnce(t *testing.T) {
	r := New(DefaultConfig(), newFakeClock().now)
	r.Register("c1")
	r.Bind("c1", "g1", "p1")

	r.MarkDisconnected("c1", "transport closed")
	drainEvents(r)
	r.MarkDisconnected("c1", "transport closed")
	if events := drainEvents(r); len(events) != 0 {
		t.Fatalf("expected no repeat events, got %v", eventTypes(events))
	}
}

func TestConcurrentDisconnectionsWithinWindow(t *testing.T) {
	clock := newFakeClock()
	r := New(DefaultConfig(), clock.now)
	for i, seat := range []string{"p1", "p2", "p3"} {
		conn := []string{"c1", "c2", "c3"}[i]
		r.Register(conn)
		r.Bind(conn, "g1", seat)
	}

	r.MarkDisconnected("c1", "transport closed")
	clock.advance(3 * time.Second)
	r.MarkDisconnected("c2", "transport closed")

	events := drainEvents(r)
	types := eventTypes(events)
	want := []EventType{EventConnectionDisconnected, EventConnectionDisconnected, EventConcurrentDisconnections}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
	last := events[len(events)-1]
	if last.DisconnectedCount != 2 || last.RemainingCount != 1 {
		t.Fatalf("unexpected tallies %+v", last)
	}
}

func TestDisconnectionsOutsideWindowAreNotConcurrent(t *testing.T) {
	clock := newFakeClock()
	r := New(DefaultConfig(), clock.now)
	for i, seat := range []string{"p1", "p2", "p3"} {
		conn := []string{"c1", "c2", "c3"}[i]
		r.Register(conn)
		r.Bind(conn, "g1", seat)
	}

	r.MarkDisconnected("c1", "transport closed")
	clock.advance(time.Minute)
	r.MarkDisconnected("c2", "transport closed")

	for _, event := range drainEvents(r) {
		if event.Type == EventConcurrentDisconnections {
			t.Fatal("expected no coincidence outside the window")
		}
	}
}

func TestReconnectRebindsNewConnectionID(t *testing.T) {
	clock := newFakeClock()
	r := New(DefaultConfig(), clock.now)
	r.Register("c1")
	r.Bind("c1", "g1", "p1")
	r.MarkDisconnected("c1", "transport closed")
	drainEvents(r)

	r.RecordReconnectionFailure("g1", "p1", 2, "dial timeout")

	r.Register("c2")
	info, ok := r.Reconnect("c2", "g1", "p1")
	if !ok {
		t.Fatal("expected reconnect to find the seat")
	}
	if info.ConnectionID != "c2" || info.Status != StatusConnected {
		t.Fatalf("unexpected entry %+v", info)
	}
	if info.ReconnectionAttempts != 0 || info.DisconnectedAt != nil || info.LastReconnectionError != "" {
		t.Fatal("expected reconnect to reset failure state")
	}

	if _, stale := r.Info("c1"); stale {
		t.Fatal("expected old connection entry removed")
	}
	events := drainEvents(r)
	if len(events) != 1 || events[0].Type != EventConnectionReconnected {
		t.Fatalf("expected reconnected event, got %v", eventTypes(events))
	}
}

func TestRecordReconnectionFailureTracksAttempts(t *testing.T) {
	r := New(DefaultConfig(), newFakeClock().now)
	r.Register("c1")
	r.Bind("c1", "g1", "p1")
	r.MarkDisconnected("c1", "transport closed")
	drainEvents(r)

	info, ok := r.RecordReconnectionFailure("g1", "p1", 1, "dns failure")
	if !ok {
		t.Fatal("expected seat lookup to succeed")
	}
	if info.Status != StatusReconnecting {
		t.Fatalf("expected reconnecting, got %s", info.Status)
	}
	if info.ReconnectionAttempts != 1 || info.LastReconnectionError != "dns failure" {
		t.Fatalf("unexpected failure state %+v", info)
	}

	info, _ = r.RecordReconnectionFailure("g1", "p1", 0, "dial timeout")
	if info.ReconnectionAttempts != 2 {
		t.Fatalf("expected attempt counter to advance, got %d", info.ReconnectionAttempts)
	}
}

func TestSweepEvictsIdleAndReportsAbandonment(t *testing.T) {
	clock := newFakeClock()
	r := New(Config{ConnectionTimeout: time.Minute}, clock.now)
	r.Register("c1")
	r.Bind("c1", "g1", "p1")
	r.Register("c2")
	r.Bind("c2", "g1", "p2")

	r.MarkDisconnected("c1", "transport closed")
	drainEvents(r)

	clock.advance(30 * time.Second)
	r.Sweep()
	if _, ok := r.Info("c1"); !ok {
		t.Fatal("expected entry to survive before timeout")
	}

	clock.advance(45 * time.Second)
	r.Sweep()
	if _, ok := r.Info("c1"); ok {
		t.Fatal("expected idle entry evicted")
	}
	// c2 still connected, so no abandonment yet.
	if events := drainEvents(r); len(events) != 0 {
		t.Fatalf("expected no events, got %v", eventTypes(events))
	}

	r.MarkDisconnected("c2", "transport closed")
	drainEvents(r)
	clock.advance(2 * time.Minute)
	r.Sweep()

	events := drainEvents(r)
	if len(events) != 1 || events[0].Type != EventGameAbandoned {
		t.Fatalf("expected gameAbandoned from sweep, got %v", eventTypes(events))
	}
}

func TestBindReplacesStaleConnectedEntry(t *testing.T) {
	r := New(DefaultConfig(), newFakeClock().now)
	r.Register("c1")
	r.Bind("c1", "g1", "p1")
	r.Register("c2")
	r.Bind("c2", "g1", "p1")

	if _, ok := r.Info("c1"); ok {
		t.Fatal("expected stale connected entry dropped")
	}
	info, ok := r.Lookup("g1", "p1")
	if !ok || info.ConnectionID != "c2" {
		t.Fatalf("expected seat bound to c2, got %+v", info)
	}
}

func TestDropGameRemovesEntries(t *testing.T) {
	r := New(DefaultConfig(), newFakeClock().now)
	r.Register("c1")
	r.Bind("c1", "g1", "p1")
	r.Register("c2")
	r.Bind("c2", "g2", "p2")

	r.DropGame("g1")

	if _, ok := r.Info("c1"); ok {
		t.Fatal("expected g1 entry removed")
	}
	if _, ok := r.Info("c2"); !ok {
		t.Fatal("expected g2 entry untouched")
	}
}
