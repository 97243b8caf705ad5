package host

import (
	"context"
	"sync"
	"time"
)

// Event is a notification emitted by a component during an invocation.
type Event struct {
	Invocation string    `json:"invocation"`
	Op         string    `json:"op"`
	Contract   string    `json:"contract"`
	Topic      string    `json:"topic"`
	Data       any       `json:"data"`
	Audit      bool      `json:"audit"`
	Timestamp  time.Time `json:"timestamp"`
}

// Name is "contract/topic", the routing key used by sinks.
func (e Event) Name() string {
	return e.Contract + "/" + e.Topic
}

// EventSink receives events after an invocation finishes. Publish must not
// block for long: it runs under the host lock to keep events totally ordered.
type EventSink interface {
	Publish(ctx context.Context, events []Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, events []Event)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, events []Event) { f(ctx, events) }

// Recorder is an in-memory sink that keeps every event, for tests and the
// dev console.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish appends events.
func (r *Recorder) Publish(_ context.Context, events []Event) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

// Events returns a copy of every recorded event.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events whose Name matches.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
