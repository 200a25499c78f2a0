// Package bus is the broadcast channel between the engine and UI surfaces.
// Delivery is at-most-once to subscribers present at publish time; nothing
// is queued for late subscribers, and a slow subscriber drops messages
// rather than blocking the publisher.
package bus

import "sync"

// Message is a broadcast notification.
type Message struct {
	Type    string `json:"type"`
	UID     string `json:"uid,omitempty"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status,omitempty"`
	Healthy *bool  `json:"healthy,omitempty"`
}

// Broadcast message types.
const (
	RestorationStatusChange = "RESTORATION_STATUS_CHANGE"
	AIStatusUpdate          = "AI_STATUS_UPDATE"
	StateUpdated            = "STATE_UPDATED"
	MenuContextUpdate       = "MENU_CONTEXT_UPDATE"
)

// Bus fans out messages to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Message
	next int
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Message)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription; the channel is closed by cancel.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	ch := make(chan Message, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers msg to every current subscriber. Subscribers with a
// full buffer miss the message.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
