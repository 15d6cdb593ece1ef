package transport

import (
	"sync"
	"sync/atomic"
)

const subscriptionDropMetricKey = "transport_subscription_dropped_total"

// Subscription delivers messages for one topic to a handler on its own
// dispatcher goroutine. Pending deliveries sit in a bounded buffer that
// ClearBuffers can discard.
type Subscription struct {
	id      string
	topic   string
	handler func([]byte)
	buffer  chan []byte
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	onDrop  func()
}

func newSubscription(id, topic string, size int, handler func([]byte), onDrop func()) *Subscription {
	if size <= 0 {
		size = 64
	}
	sub := &Subscription{
		id:      id,
		topic:   topic,
		handler: handler,
		buffer:  make(chan []byte, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onDrop:  onDrop,
	}
	go sub.dispatch()
	return sub
}

func (s *Subscription) ID() string    { return s.id }
func (s *Subscription) Topic() string { return s.topic }

// Dropped reports how many messages were discarded because the buffer was
// full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) deliver(data []byte) {
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.buffer <- data:
	default:
		s.dropped.Add(1)
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

func (s *Subscription) dispatch() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case data := <-s.buffer:
			if s.handler != nil {
				s.handler(data)
			}
		}
	}
}

// clear discards every pending delivery.
func (s *Subscription) clear() int {
	cleared := 0
	for {
		select {
		case <-s.buffer:
			cleared++
		default:
			return cleared
		}
	}
}

// close stops the dispatcher and waits for an in-flight handler to return.
func (s *Subscription) close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
