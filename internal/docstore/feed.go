package docstore

import (
	"sync"
	"sync/atomic"
)

type subscriber struct {
	fn     func(WriteEvent)
	active atomic.Bool
}

// Feed fans write events out to subscribers. Publish never blocks: events
// are queued and delivered one at a time, in publish order, on a single
// goroutine. Every subscriber sees an event before any subscriber sees the
// next one.
type Feed struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []WriteEvent
	subs       []*subscriber
	delivering bool
	closed     bool
	done       chan struct{}
}

// NewFeed starts a feed. Close must be called to stop its goroutine.
func NewFeed() *Feed {
	f := &Feed{done: make(chan struct{})}
	f.cond = sync.NewCond(&f.mu)
	go f.run()
	return f
}

// Subscribe registers fn and returns the function removing it. After the
// returned function has been called fn receives no new events.
func (f *Feed) Subscribe(fn func(WriteEvent)) func() {
	s := &subscriber{fn: fn}
	s.active.Store(true)

	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, other := range f.subs {
				if other == s {
					f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish queues evt. Events published after Close are dropped.
func (f *Feed) Publish(evt WriteEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.queue = append(f.queue, evt)
	f.cond.Broadcast()
}

// Subscribers returns the number of registered subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Flush blocks until every queued event has been delivered. It must not be
// called from a subscriber.
func (f *Feed) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.queue) > 0 || f.delivering {
		f.cond.Wait()
	}
}

// Close delivers the events already queued followed by EventStoreClosed,
// then stops the feed.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return
	}
	f.queue = append(f.queue, WriteEvent{Kind: EventStoreClosed})
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
	<-f.done
}

func (f *Feed) run() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if len(f.queue) == 0 {
			f.cond.Broadcast()
			f.mu.Unlock()
			return
		}
		evt := f.queue[0]
		f.queue[0] = WriteEvent{}
		f.queue = f.queue[1:]
		subs := append([]*subscriber(nil), f.subs...)
		f.delivering = true
		f.mu.Unlock()

		for _, s := range subs {
			if s.active.Load() {
				s.fn(evt)
			}
		}

		f.mu.Lock()
		f.delivering = false
		f.cond.Broadcast()
		f.mu.Unlock()
	}
}
