package storage

import "sync"

// Subject is a multicast stream. Every value published after a subscriber
// joins is delivered to it, in publish order. Publish never blocks: each
// subscriber buffers without bound and drains on its own goroutine.
//
// Close completes the stream: subscribers receive what was already
// published, then their channel is closed.
type Subject[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// NewSubject creates an open subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[uint64]*Subscription[T])}
}

// Subscribe adds a subscriber. Subscribing to a closed subject returns a
// subscription whose channel is already closed.
func (s *Subject[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		subject: s,
		items:   make([]T, 0, 16),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		out:     make(chan T),
	}

	s.mu.Lock()
	if s.closed {
		sub.closed = true
	} else {
		s.nextID++
		sub.id = s.nextID
		s.subs[sub.id] = sub
	}
	s.mu.Unlock()

	go sub.run()
	return sub
}

// Publish delivers v to every current subscriber. It returns false if the
// subject is closed.
func (s *Subject[T]) Publish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for _, sub := range s.subs {
		sub.enqueue(v)
	}
	return true
}

// Len returns the number of subscribers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close completes the stream for every subscriber. Safe to call repeatedly.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		sub.complete()
		delete(s.subs, id)
	}
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Subscription is one subscriber of a Subject.
type Subscription[T any] struct {
	subject *Subject[T]
	id      uint64

	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wakeups

	done     chan struct{}
	doneOnce sync.Once
	out      chan T
}

// C returns the delivery channel. It is closed when the subject completes
// or Unsubscribe is called.
func (sub *Subscription[T]) C() <-chan T {
	return sub.out
}

// Unsubscribe stops delivery and releases the subscriber. Values still
// buffered are dropped.
func (sub *Subscription[T]) Unsubscribe() {
	sub.doneOnce.Do(func() {
		close(sub.done)
		sub.subject.remove(sub.id)
	})
}

func (sub *Subscription[T]) enqueue(v T) {
	sub.mu.Lock()
	sub.items = append(sub.items, v)
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

func (sub *Subscription[T]) complete() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

// next pops the oldest buffered value. ok is false when the buffer is
// empty; closed then says whether more values can still arrive.
func (sub *Subscription[T]) next() (v T, ok bool, closed bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.items) == 0 {
		sub.items = sub.items[:0]
		return v, false, sub.closed
	}
	v = sub.items[0]
	var zero T
	sub.items[0] = zero
	sub.items = sub.items[1:]
	return v, true, sub.closed
}

func (sub *Subscription[T]) run() {
	defer close(sub.out)
	for {
		v, ok, closed := sub.next()
		if !ok {
			if closed {
				return
			}
			select {
			case <-sub.signal:
				continue
			case <-sub.done:
				return
			}
		}
		select {
		case sub.out <- v:
		case <-sub.done:
			return
		}
	}
}
