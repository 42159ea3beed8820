package broadcast

import (
	"sync"

	"livequiz-service/internal/domain"
)

// Channel selects one of the two logical channels a session exposes.
type Channel string

const (
	// Lobby carries roster snapshots for host-side lobby views.
	Lobby Channel = "lobby"
	// Play carries question publishes, answer progress, reveals, and finishes.
	Play Channel = "play"
)

type topicKey struct {
	pin     string
	channel Channel
}

// Hub fans events out to every socket subscribed to a session channel.
// Publishing never blocks the triggering request: a slow subscriber has its
// oldest pending event dropped instead (delivery is at-least-once and
// clients handle duplicates, so dropping stale events is safe).
type Hub struct {
	mu     sync.RWMutex
	topics map[topicKey]map[chan domain.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[topicKey]map[chan domain.Event]struct{})}
}

// Subscribe registers a new subscriber on the given session channel. The
// returned cancel function must be called on disconnect; it tears down the
// subscription without touching session or participant state.
func (h *Hub) Subscribe(pin string, channel Channel) (<-chan domain.Event, func()) {
	key := topicKey{pin: pin, channel: channel}
	ch := make(chan domain.Event, 16)

	h.mu.Lock()
	subs, ok := h.topics[key]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		h.topics[key] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.topics[key]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.topics, key)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish pushes an event to every subscriber of the session channel.
func (h *Hub) Publish(pin string, channel Channel, event domain.Event) {
	key := topicKey{pin: pin, channel: channel}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.topics[key] {
		select {
		case ch <- event:
		default:
			// Drop the oldest pending event so a stalled reader cannot
			// block everyone else.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports how many sockets are on a session channel.
func (h *Hub) SubscriberCount(pin string, channel Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topicKey{pin: pin, channel: channel}])
}
