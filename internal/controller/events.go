package controller

import (
	"sync"
	"time"

	"github.com/hpungsan/stint/internal/session"
)

// EventType names a controller notification.
type EventType string

const (
	EventStarted    EventType = "started"
	EventPaused     EventType = "paused"
	EventResumed    EventType = "resumed"
	EventCompleted  EventType = "completed"
	EventDiscarded  EventType = "discarded"
	EventTick       EventType = "tick"
	EventWarning    EventType = "warning"
	EventReconciled EventType = "reconciled"
)

// Event is delivered to subscribers after the state change it describes.
type Event struct {
	Type EventType
	At   time.Time

	// Session is a snapshot; listeners may keep it.
	Session *session.Session
	Timing  session.Timing

	// Auto is set on a completion forced by the planned duration or the cap.
	Auto bool

	// Err carries the cause of a warning.
	Err error
}

// Listener receives events synchronously on the goroutine that caused them.
type Listener func(Event)

type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]Listener
}

func (s *subscribers) add(fn Listener) func() {
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[int]Listener)
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	fns := make([]Listener, 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, e := range events {
		for _, fn := range fns {
			fn(e)
		}
	}
}
