package transport

import (
	"log/slog"
	"sync/atomic"

	"dcvext/message"
)

// Subscription receives host events on C. Delivery never blocks the receive
// loop: when the buffer is full the oldest undelivered event is dropped. C is
// closed when the session ends or the subscription is cancelled.
type Subscription struct {
	C <-chan *message.Event

	ch      chan *message.Event
	d       *Dispatcher
	dropped atomic.Uint64
}

// Subscribe registers a subscription with room for buffer events. A closed
// session yields a subscription whose channel is already closed.
func (d *Dispatcher) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *message.Event, buffer)
	sub := &Subscription{C: ch, ch: ch, d: d}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Running {
		close(ch)
		return sub
	}
	d.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if _, ok := s.d.subs[s]; ok {
		delete(s.d.subs, s)
		close(s.ch)
	}
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// deliver is called with the dispatcher lock held, so ch cannot be closed
// underneath it.
func (s *Subscription) deliver(ev *message.Event, logger *slog.Logger) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case old := <-s.ch:
			s.dropped.Add(1)
			logger.Warn("subscriber is slow, dropping oldest event", "event", old.Kind)
		default:
		}
	}
}
