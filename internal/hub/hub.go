// Package hub fans out per-run messages (telemetry, decisions, alerts,
// status, agent reasoning) to operator subscribers. Delivery is best effort
// and ordered per subscriber; slow consumers lose oldest messages first and
// are evicted if they never catch up.
package hub

import (
	"log"
	"sync"
)

// Kind tags a broadcast message.
type Kind string

const (
	KindTelemetry      Kind = "telemetry"
	KindEvent          Kind = "event"
	KindAlert          Kind = "alert"
	KindStatus         Kind = "status"
	KindAgentReasoning Kind = "agent_reasoning"
)

// Message is one typed broadcast payload.
type Message struct {
	Kind Kind        `json:"kind"`
	Data interface{} `json:"data"`
}

// Subscriber is one attached consumer. Read from C until it is closed.
type Subscriber struct {
	runID string
	ch    chan Message

	// consecutiveDrops is only touched under the hub lock.
	consecutiveDrops int
}

// C returns the subscriber's receive channel. Closed on eviction or
// unsubscribe.
func (s *Subscriber) C() <-chan Message { return s.ch }

// RunID returns the run this subscriber watches.
func (s *Subscriber) RunID() string { return s.runID }

// Hub routes messages to the subscribers of each run.
type Hub struct {
	mu   sync.Mutex
	runs map[string]map[*Subscriber]struct{}

	bufSize    int
	evictAfter int

	onDrop  func()
	onEvict func()

	logger *log.Logger
}

// Instrument installs counters fired on message drops and subscriber
// evictions. Call before any Publish.
func (h *Hub) Instrument(onDrop, onEvict func()) {
	h.onDrop = onDrop
	h.onEvict = onEvict
}

// New creates a hub. bufSize is each subscriber's buffer; evictAfter is the
// consecutive-drop count at which a subscriber is cut loose.
func New(bufSize, evictAfter int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	if evictAfter <= 0 {
		evictAfter = 8
	}
	return &Hub{
		runs:       make(map[string]map[*Subscriber]struct{}),
		bufSize:    bufSize,
		evictAfter: evictAfter,
		logger:     log.New(log.Writer(), "[HUB] ", log.LstdFlags),
	}
}

// Subscribe attaches a new consumer to a run.
func (h *Hub) Subscribe(runID string) *Subscriber {
	sub := &Subscriber{runID: runID, ch: make(chan Message, h.bufSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.runs[runID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.runs[runID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches a consumer and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Publish delivers msg to every subscriber of the run. Never blocks: a full
// subscriber buffer drops its oldest message so the newest always lands.
func (h *Hub) Publish(runID string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.runs[runID] {
		if h.offerLocked(sub, msg) {
			sub.consecutiveDrops = 0
			continue
		}
		sub.consecutiveDrops++
		if h.onDrop != nil {
			h.onDrop()
		}
		if sub.consecutiveDrops >= h.evictAfter {
			h.logger.Printf("evicting slow subscriber on run %s after %d consecutive drops", runID, sub.consecutiveDrops)
			h.removeLocked(sub)
			if h.onEvict != nil {
				h.onEvict()
			}
		}
	}
}

// SubscriberCount returns the number of attached consumers for a run.
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs[runID])
}

// offerLocked tries to enqueue msg, evicting the oldest buffered message if
// needed. Returns false when the delivery still displaced data.
func (h *Hub) offerLocked(sub *Subscriber, msg Message) bool {
	select {
	case sub.ch <- msg:
		return true
	default:
	}

	// Buffer full: drop the oldest, then enqueue. The second send cannot
	// block because publishes are serialized under the hub lock.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- msg:
	default:
	}
	return false
}

func (h *Hub) removeLocked(sub *Subscriber) {
	set, ok := h.runs[sub.runID]
	if !ok {
		return
	}
	if _, attached := set[sub]; !attached {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.runs, sub.runID)
	}
	close(sub.ch)
}
