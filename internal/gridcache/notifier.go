package gridcache

import (
	"sync"

	"github.com/bodul/wafflegram/internal/cell"
)

type observer struct {
	id uint64
	fn func(cell.Cell)
}

// notifier is the registry of change observers, called in registration
// order.
type notifier struct {
	mu        sync.Mutex
	nextID    uint64
	observers []observer

	// delivery is held for a whole notify so close can wait it out.
	delivery sync.Mutex
	closed   bool
}

func (n *notifier) add(fn func(cell.Cell)) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.observers = append(n.observers, observer{id: id, fn: fn})
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, o := range n.observers {
			if o.id == id {
				n.observers = append(n.observers[:i:i], n.observers[i+1:]...)
				return
			}
		}
	}
}

// notify calls every observer synchronously. Observers may register or
// unregister while being notified; changes apply from the next call.
func (n *notifier) notify(c cell.Cell) {
	n.delivery.Lock()
	defer n.delivery.Unlock()
	if n.closed {
		return
	}
	n.mu.Lock()
	observers := append([]observer(nil), n.observers...)
	n.mu.Unlock()
	for _, o := range observers {
		o.fn(c)
	}
}

// close waits for a notify in progress and drops every observer. Later
// notify calls do nothing.
func (n *notifier) close() {
	n.delivery.Lock()
	n.closed = true
	n.delivery.Unlock()
	n.mu.Lock()
	n.observers = nil
	n.mu.Unlock()
}

func (n *notifier) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.observers)
}
