package broadcast

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 16

// Subscription is one viewer's feed for an event
type Subscription struct {
	EventID string
	C       <-chan []byte

	ch      chan []byte
	dropped atomic.Int64
	once    sync.Once
}

// Dropped returns how many messages were skipped because the viewer was slow
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub fans messages out to the viewers connected to this instance
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// NewHub creates a new hub
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe joins an event's channel; call the returned func to leave
func (h *Hub) Subscribe(eventID string) (*Subscription, func()) {
	ch := make(chan []byte, h.buffer)
	sub := &Subscription{EventID: eventID, C: ch, ch: ch}

	h.mu.Lock()
	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[*Subscription]struct{})
	}
	h.subs[eventID][sub] = struct{}{}
	h.mu.Unlock()

	return sub, func() { h.unsubscribe(sub) }
}

func (h *Hub) unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if set, ok := h.subs[sub.EventID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.EventID)
			}
		}
		h.mu.Unlock()
		close(sub.ch)
	})
}

// Dispatch delivers payload to every viewer of eventID without blocking
func (h *Hub) Dispatch(eventID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[eventID] {
		select {
		case sub.ch <- payload:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the number of viewers of eventID
func (h *Hub) Subscribers(eventID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[eventID])
}

// Close disconnects every viewer
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*Subscription, 0)
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		h.unsubscribe(sub)
	}
}
