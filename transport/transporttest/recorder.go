// Package transporttest provides an in-memory stand-in for transport.Client.
package transporttest

import (
	"encoding/json"
	"sync"

	"github.com/gosuda/room-chat/transport"
)

// Emitted is one recorded Emit call.
type Emitted struct {
	Event   string
	Payload any
}

// Recorder records emits and lets tests deliver inbound events.
type Recorder struct {
	mu       sync.Mutex
	emitted  []Emitted
	handlers map[string]transport.Handler
	ons      int
	offs     int
}

func NewRecorder() *Recorder {
	return &Recorder{handlers: make(map[string]transport.Handler)}
}

func (r *Recorder) Emit(event string, payload any) {
	r.mu.Lock()
	r.emitted = append(r.emitted, Emitted{Event: event, Payload: payload})
	r.mu.Unlock()
}

func (r *Recorder) On(event string, h transport.Handler) {
	r.mu.Lock()
	r.handlers[event] = h
	r.ons++
	r.mu.Unlock()
}

func (r *Recorder) Off(event string) {
	r.mu.Lock()
	delete(r.handlers, event)
	r.offs++
	r.mu.Unlock()
}

// Deliver invokes the handler registered for event with payload encoded as JSON.
// It reports whether a handler was registered.
func (r *Recorder) Deliver(event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return r.DeliverRaw(event, data)
}

// DeliverRaw is Deliver with a pre-encoded payload.
func (r *Recorder) DeliverRaw(event string, data json.RawMessage) bool {
	r.mu.Lock()
	h := r.handlers[event]
	r.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Emitted returns a copy of every Emit call so far.
func (r *Recorder) Emitted() []Emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emitted(nil), r.emitted...)
}

// Handlers is the number of events with a registered handler.
func (r *Recorder) Handlers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Registrations returns how many times On and Off were called.
func (r *Recorder) Registrations() (ons, offs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ons, r.offs
}
