// Package notifier is the in-process broadcast channel that lets checkout
// announce a placed order to any number of independent listeners. There is
// no replay buffer: a listener that was not subscribed at publish time
// reconciles by refreshing, not by reading history.
package notifier

import (
	"sync"

	"github.com/example/safebites/pkg/models"
)

// EventKind tags a published event.
type EventKind string

const (
	// EventOrderPlaced is published after a checkout is confirmed
	// persisted.
	EventOrderPlaced EventKind = "order_placed"
)

// Event is what subscribers receive.
type Event struct {
	Kind  EventKind
	Order models.OrderView
}

// Notifier broadcasts events to all current subscribers. Publish never
// fails and never blocks: a subscriber whose buffer is full misses the
// event and is expected to self-reconcile on its next refresh.
type Notifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

func New() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. Cancel is safe to call more than once and safe to call while a
// publish is mid-broadcast.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	ch := make(chan Event, 4)
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish broadcasts to every current subscriber, fire-and-forget.
func (n *Notifier) Publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount is used by polling surfaces to decide whether anyone is
// still listening.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
