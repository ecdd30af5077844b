package storage

import (
	"sync"
)

// State is the lifecycle state of an instance.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// lifecycle tracks Open -> Closing -> Closed and the operations in flight.
type lifecycle struct {
	mu       sync.Mutex
	state    State
	inflight sync.WaitGroup
	closed   chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{closed: make(chan struct{})}
}

// enter registers an operation. It fails unless the state is open.
func (l *lifecycle) enter() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOpen {
		return false
	}
	l.inflight.Add(1)
	return true
}

func (l *lifecycle) leave() {
	l.inflight.Done()
}

// beginClose moves an open instance to closing and waits for operations in
// flight. It returns false if another caller already started closing; that
// caller finishes the job.
func (l *lifecycle) beginClose() bool {
	l.mu.Lock()
	if l.state != StateOpen {
		l.mu.Unlock()
		return false
	}
	l.state = StateClosing
	l.mu.Unlock()

	l.inflight.Wait()
	return true
}

func (l *lifecycle) finishClose() {
	l.mu.Lock()
	l.state = StateClosed
	l.mu.Unlock()
	close(l.closed)
}

// wait blocks until the instance is closed.
func (l *lifecycle) wait() {
	<-l.closed
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
