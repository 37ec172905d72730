// Copyright 2025 Certen Protocol
//
// Package presence tracks device liveness: heartbeat ingest, a
// fixed-cadence sweep, and pure-function status queries derived from
// last_heartbeat_at and the sweep clock.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/certen/iot-anchor/internal/domain"
)

// DefaultLiveWindow / DefaultIdleWindow / DefaultSweepEvery are the
// fallback liveness thresholds and sweep cadence when a Config leaves them
// unset.
const (
	DefaultLiveWindow = 60 * time.Second
	DefaultIdleWindow = 300 * time.Second
	DefaultSweepEvery = 15 * time.Second
)

// EventSink receives DEVICE_STATUS_CHANGE notifications. Satisfied by
// internal/eventbus.Bus.
type EventSink interface {
	Publish(kind string, payload interface{})
}

type entry struct {
	lastHeartbeatAt int64
	lastStatus      domain.PresenceStatus
	missedBeats     int
}

// Tracker is the presence component.
type Tracker struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	liveWindow  time.Duration
	idleWindow  time.Duration
	sweepEvery  time.Duration
	sink        EventSink
	logger      *log.Logger
	now         func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config configures a Tracker.
type Config struct {
	LiveWindow time.Duration
	IdleWindow time.Duration
	SweepEvery time.Duration
	Sink       EventSink
	Logger     *log.Logger
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// New constructs a Tracker. Call Run to start the background sweep.
func New(cfg Config) *Tracker {
	if cfg.LiveWindow <= 0 {
		cfg.LiveWindow = DefaultLiveWindow
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = DefaultIdleWindow
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Presence] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		entries:    make(map[string]*entry),
		liveWindow: cfg.LiveWindow,
		idleWindow: cfg.IdleWindow,
		sweepEvery: cfg.SweepEvery,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		now:        cfg.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func statusFor(lastHeartbeatAt int64, now time.Time, live, idle time.Duration) domain.PresenceStatus {
	age := now.Sub(time.Unix(lastHeartbeatAt, 0))
	switch {
	case age <= live:
		return domain.StatusOnline
	case age <= idle:
		return domain.StatusIdle
	default:
		return domain.StatusOffline
	}
}

// Heartbeat records a liveness signal for deviceID at the current time. If
// the submitted time precedes the stored one, it is ignored. A transition
// from OFFLINE/IDLE to ONLINE emits DEVICE_STATUS_CHANGE.
func (t *Tracker) Heartbeat(deviceID string) {
	now := t.now()

	t.mu.Lock()
	e, ok := t.entries[deviceID]
	if !ok {
		e = &entry{lastStatus: domain.StatusOffline}
		t.entries[deviceID] = e
	}
	if now.Unix() < e.lastHeartbeatAt {
		t.mu.Unlock()
		return
	}

	prevStatus := e.lastStatus
	e.lastHeartbeatAt = now.Unix()
	e.missedBeats = 0
	newStatus := statusFor(e.lastHeartbeatAt, now, t.liveWindow, t.idleWindow)
	e.lastStatus = newStatus
	t.mu.Unlock()

	if newStatus == domain.StatusOnline && prevStatus != domain.StatusOnline {
		t.emitStatusChange(deviceID, prevStatus, newStatus)
	}
}

// Status computes the current status of deviceID as a pure function of
// last_heartbeat_at and the current clock.
func (t *Tracker) Status(deviceID string) (domain.PresenceRecord, bool) {
	now := t.now()
	t.mu.RLock()
	e, ok := t.entries[deviceID]
	t.mu.RUnlock()
	if !ok {
		return domain.PresenceRecord{}, false
	}
	return domain.PresenceRecord{
		DeviceID:        deviceID,
		LastHeartbeatAt: e.lastHeartbeatAt,
		Status:          statusFor(e.lastHeartbeatAt, now, t.liveWindow, t.idleWindow),
		MissedBeats:     e.missedBeats,
	}, true
}

// ListStatuses returns the presence record of every known device.
func (t *Tracker) ListStatuses() []domain.PresenceRecord {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.PresenceRecord, 0, len(t.entries))
	for deviceID, e := range t.entries {
		out = append(out, domain.PresenceRecord{
			DeviceID:        deviceID,
			LastHeartbeatAt: e.lastHeartbeatAt,
			Status:          statusFor(e.lastHeartbeatAt, now, t.liveWindow, t.idleWindow),
			MissedBeats:     e.missedBeats,
		})
	}
	return out
}

// Run starts the fixed-cadence sweep. It blocks until ctx is cancelled or
// Stop is called.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweepEvery)
	defer ticker.Stop()
	defer close(t.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// Stop halts the sweep goroutine started by Run.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *Tracker) sweep() {
	now := t.now()

	type transition struct {
		deviceID string
		from, to domain.PresenceStatus
	}
	var transitions []transition

	t.mu.Lock()
	for deviceID, e := range t.entries {
		newStatus := statusFor(e.lastHeartbeatAt, now, t.liveWindow, t.idleWindow)
		if newStatus != e.lastStatus {
			transitions = append(transitions, transition{deviceID, e.lastStatus, newStatus})
			e.lastStatus = newStatus
		}
		if newStatus != domain.StatusOnline {
			e.missedBeats++
		}
	}
	t.mu.Unlock()

	for _, tr := range transitions {
		t.emitStatusChange(tr.deviceID, tr.from, tr.to)
	}
}

func (t *Tracker) emitStatusChange(deviceID string, from, to domain.PresenceStatus) {
	if t.sink == nil {
		return
	}
	t.sink.Publish(domain.EventDeviceStatusChange, map[string]string{
		"device_id": deviceID,
		"from":      string(from),
		"to":        string(to),
	})
}
