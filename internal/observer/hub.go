package observer

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub fans events out to per-session subscribers. Slow subscribers drop
// events rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel receiving events for sessionID
func (h *Hub) Subscribe(sessionID string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch; unknown channels are ignored
func (h *Hub) Unsubscribe(sessionID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[ch]; ok {
		delete(set, ch)
		close(ch)
	}
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
}

// CloseSession closes every subscriber of sessionID
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[sessionID] {
		close(ch)
	}
	delete(h.subs, sessionID)
}

// Subscribers returns the number of subscribers of sessionID
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *Hub) OnEvent(ctx context.Context, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *Hub) GetObserverName() string {
	return "session_hub"
}
