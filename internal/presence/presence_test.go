package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/certen/iot-anchor/internal/domain"
)

type fakeSink struct {
	mu     sync.Mutex
	events []struct {
		kind    string
		payload interface{}
	}
}

func (f *fakeSink) Publish(kind string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, struct {
		kind    string
		payload interface{}
	}{kind, payload})
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(sink EventSink, clock *manualClock) *Tracker {
	return New(Config{
		LiveWindow: 10 * time.Second,
		IdleWindow: 30 * time.Second,
		SweepEvery: time.Second,
		Sink:       sink,
		Now:        clock.Now,
	})
}

func TestHeartbeatMarksOnlineAndEmitsOnFirstTransition(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	sink := &fakeSink{}
	tr := newTestTracker(sink, clock)

	tr.Heartbeat("device-1")

	rec, ok := tr.Status("device-1")
	if !ok {
		t.Fatalf("expected status to exist")
	}
	if rec.Status != domain.StatusOnline {
		t.Fatalf("status = %v, want ONLINE", rec.Status)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly one status-change event on first heartbeat, got %d", sink.count())
	}
}

func TestHeartbeatDoesNotReemitWhileStillOnline(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	sink := &fakeSink{}
	tr := newTestTracker(sink, clock)

	tr.Heartbeat("device-1")
	clock.Advance(2 * time.Second)
	tr.Heartbeat("device-1")

	if sink.count() != 1 {
		t.Fatalf("expected no re-emit while staying ONLINE, got %d events", sink.count())
	}
}

func TestHeartbeatIgnoresOutOfOrderTimestamp(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	sink := &fakeSink{}
	tr := newTestTracker(sink, clock)

	tr.Heartbeat("device-1")
	rec1, _ := tr.Status("device-1")

	clock.Advance(-5 * time.Second) // simulate an out-of-order delivery
	tr.Heartbeat("device-1")

	rec2, _ := tr.Status("device-1")
	if rec2.LastHeartbeatAt != rec1.LastHeartbeatAt {
		t.Fatalf("out-of-order heartbeat must not move last_heartbeat_at backwards")
	}
}

func TestStatusTransitionsThroughIdleToOffline(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	tr := newTestTracker(nil, clock)

	tr.Heartbeat("device-1")

	clock.Advance(15 * time.Second) // beyond LiveWindow(10s), within IdleWindow(30s)
	rec, _ := tr.Status("device-1")
	if rec.Status != domain.StatusIdle {
		t.Fatalf("status = %v, want IDLE", rec.Status)
	}

	clock.Advance(20 * time.Second) // now 35s since heartbeat, beyond IdleWindow
	rec, _ = tr.Status("device-1")
	if rec.Status != domain.StatusOffline {
		t.Fatalf("status = %v, want OFFLINE", rec.Status)
	}
}

func TestSweepEmitsTransitionsAndCountsMissedBeats(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	sink := &fakeSink{}
	tr := newTestTracker(sink, clock)

	tr.Heartbeat("device-1")
	clock.Advance(40 * time.Second) // well past IdleWindow

	tr.sweep()

	rec, _ := tr.Status("device-1")
	if rec.Status != domain.StatusOffline {
		t.Fatalf("status = %v, want OFFLINE", rec.Status)
	}
	if rec.MissedBeats != 1 {
		t.Fatalf("MissedBeats = %d, want 1", rec.MissedBeats)
	}
	if sink.count() != 2 { // one for the initial ONLINE transition, one for OFFLINE
		t.Fatalf("expected 2 emitted transitions, got %d", sink.count())
	}

	tr.sweep()
	rec, _ = tr.Status("device-1")
	if rec.MissedBeats != 2 {
		t.Fatalf("MissedBeats after second sweep = %d, want 2", rec.MissedBeats)
	}
}

func TestListStatusesReturnsAllDevices(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	tr := newTestTracker(nil, clock)

	tr.Heartbeat("device-1")
	tr.Heartbeat("device-2")

	all := tr.ListStatuses()
	if len(all) != 2 {
		t.Fatalf("ListStatuses: got %d entries, want 2", len(all))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	tr := newTestTracker(nil, clock)
	tr.sweepEvery = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}

func TestStopHaltsRunLoop(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	tr := newTestTracker(nil, clock)
	tr.sweepEvery = time.Millisecond

	done := make(chan struct{})
	go func() {
		tr.Run(context.Background())
		close(done)
	}()
	tr.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}
