package trace

import (
	"encoding/json"
	"sync"
)

// Observer is notified of every committed event, in commit order.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Trace is the append-only event log of one task run.
type Trace struct {
	mu        sync.Mutex
	events    []Event
	observers []Observer
}

// New creates an empty trace.
func New(observers ...Observer) *Trace {
	return &Trace{observers: observers}
}

// Subscribe adds an observer for subsequent events. Events committed before
// the call are not replayed.
func (t *Trace) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Append commits a single event.
func (t *Trace) Append(e Event) {
	t.commit([]Event{e})
}

// Commit appends every staged event in stage order and empties the stage.
func (t *Trace) Commit(s *Stage) {
	if s == nil || len(s.events) == 0 {
		return
	}
	events := s.events
	s.events = nil
	t.commit(events)
}

func (t *Trace) commit(events []Event) {
	t.mu.Lock()
	t.events = append(t.events, events...)
	observers := t.observers
	t.mu.Unlock()

	for _, e := range events {
		for _, o := range observers {
			o.Observe(e)
		}
	}
}

// Events returns a copy of the committed events.
func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of committed events.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Events())
}

// Stage collects events that must land in the trace together and in a fixed
// order, such as an agent step followed by its validator verdict.
type Stage struct {
	events []Event
}

// Add stages an event.
func (s *Stage) Add(e Event) {
	s.events = append(s.events, e)
}
