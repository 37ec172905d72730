package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestAllowPermitsUpToLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := New(Config{Now: clock.now})

	for i := 0; i < 3; i++ {
		if !l.Allow("device-1", 3, time.Minute) {
			t.Fatalf("attempt %d: expected Allow, got denied", i)
		}
	}
	if l.Allow("device-1", 3, time.Minute) {
		t.Fatalf("4th attempt within limit of 3 should be denied")
	}
}

func TestAllowResetsOutsideWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := New(Config{Now: clock.now})

	for i := 0; i < 2; i++ {
		l.Allow("device-1", 2, time.Second)
	}
	if l.Allow("device-1", 2, time.Second) {
		t.Fatalf("expected denial once limit is reached")
	}

	clock.t = clock.t.Add(2 * time.Second)
	if !l.Allow("device-1", 2, time.Second) {
		t.Fatalf("expected allow once the window has fully elapsed")
	}
}

func TestAllowIsPerDevice(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := New(Config{Now: clock.now})

	for i := 0; i < 2; i++ {
		l.Allow("device-1", 2, time.Minute)
	}
	if !l.Allow("device-2", 2, time.Minute) {
		t.Fatalf("device-2 should have its own independent window")
	}
}

func TestAllowDisabledWhenLimitNonPositive(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := New(Config{Now: clock.now})

	for i := 0; i < 100; i++ {
		if !l.Allow("device-1", 0, time.Minute) {
			t.Fatalf("a non-positive limit must disable enforcement")
		}
	}
}

func TestResetClearsWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := New(Config{Now: clock.now})

	l.Allow("device-1", 1, time.Minute)
	if l.Allow("device-1", 1, time.Minute) {
		t.Fatalf("expected denial before Reset")
	}
	l.Reset("device-1")
	if !l.Allow("device-1", 1, time.Minute) {
		t.Fatalf("expected allow immediately after Reset")
	}
}
