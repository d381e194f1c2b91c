package hub

import (
	"context"
	"sync"
	"sync/atomic"
)

// Subscriber is one attached consumer of hub events. Each subscriber
// owns a bounded queue; a slow consumer loses events (counted) rather
// than stalling the publisher.
type Subscriber struct {
	id       string
	capacity int

	mu     sync.Mutex
	queue  []Event
	closed bool

	// notify wakes a blocked Next after a push; done unblocks it on
	// Close. notify is 1-buffered so pushes never block.
	notify chan struct{}
	done   chan struct{}

	dropped atomic.Uint64
}

func newSubscriber(id string, capacity int) *Subscriber {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Subscriber{
		id:       id,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the identifier assigned by the hub at Subscribe time.
func (s *Subscriber) ID() string {
	return s.id
}

// Next blocks until an event is available, the context is cancelled,
// or the subscriber is closed.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Event{}, ErrSubscriberClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.done:
			// Drain whatever was queued before the close.
		case <-s.notify:
		}
	}
}

// TryNext pops the next queued event without blocking.
func (s *Subscriber) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Len reports the number of queued events.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped reports how many events were discarded because the queue
// was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// push appends an event, dropping it when the queue is full. Returns
// false when the event was not queued.
func (s *Subscriber) push(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if len(s.queue) >= s.capacity {
		s.dropped.Add(1)
		return false
	}
	s.queue = append(s.queue, ev)
	s.wake()
	return true
}

// replace swaps the whole queue, bypassing the capacity bound. Used by
// rehydration, which must deliver the complete snapshot.
func (s *Subscriber) replace(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue[:0:0], events...)
	s.wake()
}

// supersede removes queued state updates for a device. Called when a
// connection drops so a stale "still transmitting" delta cannot follow
// the disconnect notification.
func (s *Subscriber) supersede(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.queue[:0]
	for _, ev := range s.queue {
		if ev.Type == EventStateChanged && ev.DeviceID == deviceID {
			continue
		}
		kept = append(kept, ev)
	}
	s.queue = kept
}

// close marks the subscriber finished. Queued events remain readable
// until drained.
func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
