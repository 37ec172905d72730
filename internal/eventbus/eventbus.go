// Copyright 2025 Certen Protocol
//
// Package eventbus is an enumerated-topic publish/subscribe core with a
// bounded per-subscriber queue and a bounded ring-buffer history,
// transport-agnostic at this layer. The websocket edge lives in
// internal/facade.
//
// Slow subscribers never block publishers: a full subscriber queue drops
// its oldest entry rather than the bus stalling.
package eventbus

import (
	"encoding/json"
	"log"
	"sync"
)

const (
	// DefaultSubQueue is the per-subscriber channel buffer size.
	DefaultSubQueue = 128
	// DefaultHistory is the number of retained events in the ring buffer.
	DefaultHistory = 1000
)

// Event is one item on the bus.
type Event struct {
	EventID uint64          `json:"event_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Subscription is a live handle returned by Subscribe.
type Subscription struct {
	id  uint64
	bus *Bus
	ch  chan Event
}

// C is the channel of events delivered to this subscriber.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

type subEntry struct {
	ch     chan Event
	topics map[string]bool // empty/nil means "all topics"
}

// Bus is the in-process publish/subscribe core.
type Bus struct {
	mu          sync.Mutex
	subs        map[uint64]*subEntry
	nextSubID   uint64
	nextEventID uint64
	subQueue    int

	history    []Event
	historyCap int
	historyPos int
	historyLen int

	logger *log.Logger
}

// Config configures a Bus.
type Config struct {
	SubQueueSize int
	HistorySize  int
	Logger       *log.Logger
}

// New constructs a Bus.
func New(cfg Config) *Bus {
	if cfg.SubQueueSize <= 0 {
		cfg.SubQueueSize = DefaultSubQueue
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[EventBus] ", log.LstdFlags)
	}
	return &Bus{
		subs:       make(map[uint64]*subEntry),
		subQueue:   cfg.SubQueueSize,
		history:    make([]Event, cfg.HistorySize),
		historyCap: cfg.HistorySize,
		logger:     cfg.Logger,
	}
}

// Publish marshals payload and delivers it to every subscriber registered
// for kind (or for all topics), appending it to the bounded history ring.
// A slow subscriber's full queue drops its oldest pending event to make
// room — publishers never block.
func (b *Bus) Publish(kind string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Printf("drop event kind=%s: marshal error: %v", kind, err)
		return
	}

	b.mu.Lock()
	b.nextEventID++
	ev := Event{EventID: b.nextEventID, Kind: kind, Payload: raw}

	b.history[b.historyPos] = ev
	b.historyPos = (b.historyPos + 1) % b.historyCap
	if b.historyLen < b.historyCap {
		b.historyLen++
	}

	recipients := make([]*subEntry, 0, len(b.subs))
	for _, s := range b.subs {
		if len(s.topics) == 0 || s.topics[kind] {
			recipients = append(recipients, s)
		}
	}
	b.mu.Unlock()

	for _, s := range recipients {
		select {
		case s.ch <- ev:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// Subscribe registers a new subscriber for the given topics. An empty
// topics list subscribes to every kind.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID

	var topicSet map[string]bool
	if len(topics) > 0 {
		topicSet = make(map[string]bool, len(topics))
		for _, t := range topics {
			topicSet[t] = true
		}
	}

	ch := make(chan Event, b.subQueue)
	b.subs[id] = &subEntry{ch: ch, topics: topicSet}
	return &Subscription{id: id, bus: b, ch: ch}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		close(s.ch)
		delete(b.subs, id)
	}
}

// History returns up to limit of the most recently published events, oldest
// first. limit <= 0 returns the full retained history.
func (b *Bus) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, b.historyLen)
	start := b.historyPos
	if b.historyLen < b.historyCap {
		start = 0
	}
	for i := 0; i < b.historyLen; i++ {
		out = append(out, b.history[(start+i)%b.historyCap])
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// SubscriberCount reports the number of live subscriptions, for metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
