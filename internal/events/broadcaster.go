// Package events delivers progress events from background work to the UI.
package events

import (
	"io"
	"slices"
	"sync"

	"github.com/goccy/go-json"

	"github.com/agentic-research/sift/internal/metrics"
)

// Sink receives named events. Implementations must be safe for concurrent use
// and must not block the caller for long.
type Sink interface {
	Emit(name string, payload any)
}

// Event is one emitted event.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Broadcaster fans events out to subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribers(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSubscribers(n)
}

// Final is implemented by payloads that can close a stream of progress
// events. A final event is never dropped for a slow consumer.
type Final interface {
	Final() bool
}

func isFinal(ev Event) bool {
	f, ok := ev.Payload.(Final)
	return ok && f.Final()
}

// Emit sends an event to all subscribers without blocking. When a
// subscriber's buffer is full, progress events are dropped; a final event
// evicts buffered progress events to make room.
func (b *Broadcaster) Emit(name string, payload any) {
	ev := Event{Name: name, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		deliver(ch, ev)
	}
}

func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	if !isFinal(ev) {
		metrics.RecordEventDropped()
		return
	}

	// Evicted final events are re-queued behind ev. The attempt bound only
	// matters when the buffer holds nothing but final events.
	pending := []Event{ev}
	for attempts := 2 * cap(ch); len(pending) > 0 && attempts > 0; attempts-- {
		select {
		case ch <- pending[0]:
			pending = pending[1:]
			continue
		default:
		}
		select {
		case old := <-ch:
			if isFinal(old) {
				pending = append(pending, old)
			} else {
				metrics.RecordEventDropped()
			}
		default:
		}
	}
	for range pending {
		metrics.RecordEventDropped()
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// WriterSink writes each event as one JSON line.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink returns a sink writing JSON lines to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Emit(name string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(Event{Name: name, Payload: payload}) // best effort
}

// Multi emits to every sink in order.
type Multi []Sink

func (m Multi) Emit(name string, payload any) {
	for _, s := range m {
		s.Emit(name, payload)
	}
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(string, any) {}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Payload: payload})
}

// Events returns a copy of the recorded events, optionally filtered by name.
func (r *Recorder) Events(names ...string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if len(names) == 0 || slices.Contains(names, ev.Name) {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
