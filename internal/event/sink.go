package event

import (
	"sync"
)

// Sink receives events from managers. Emit must not block for long; it is
// called from inside a manager turn.
type Sink interface {
	Emit(e Event)
}

// ChannelSink forwards events to a buffered channel consumed by the sequencer.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Emit blocks when the buffer is full so that no event is lost.
func (s *ChannelSink) Emit(e Event) {
	s.ch <- e
}

func (s *ChannelSink) C() <-chan Event {
	return s.ch
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given discriminator.
func (r *Recorder) OfType(et EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.EventType() == et {
			out = append(out, e)
		}
	}
	return out
}

// Fanout emits to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}
