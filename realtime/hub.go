// Package realtime fans ledger events out to live consumers, typically
// WebSocket connections watching one learner's progress.
package realtime

import (
	"context"
	"sync"

	"learnledger/core"
)

type subscriber struct {
	user core.UserID // "" receives every user's events
	ch   chan core.Event
}

// Hub routes ledger events to subscribers, optionally filtered to a single
// user. Slow consumers lose events rather than stalling the broadcast.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

func NewHub() *Hub { return &Hub{subs: map[int]*subscriber{}} }

// Subscribe registers a firehose consumer receiving every event.
func (h *Hub) Subscribe(buffer int) (int, <-chan core.Event) {
	return h.add("", buffer)
}

// SubscribeUser registers a consumer receiving only the given user's events.
// An empty user behaves like Subscribe.
func (h *Hub) SubscribeUser(user core.UserID, buffer int) (int, <-chan core.Event) {
	return h.add(user, buffer)
}

func (h *Hub) add(user core.UserID, buffer int) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	sub := &subscriber{user: user, ch: make(chan core.Event, buffer)}
	h.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe closes the subscriber's channel and removes it.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Broadcast delivers the event to every subscriber whose filter matches.
// A full buffer drops the event for that subscriber only.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	matched := make([]chan core.Event, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.user == "" || sub.user == ev.UserID {
			matched = append(matched, sub.ch)
		}
	}
	h.mu.RUnlock()
	for _, ch := range matched {
		select {
		case ch <- ev:
		default:
		}
	}
}
