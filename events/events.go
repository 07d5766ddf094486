// Package events names the events a query publishes and defines the sink
// they are published to.
//
// Per-provider streams namespace their events with the provider id so that
// several columns streaming at once never see each other's chunks.
package events

import (
	"strings"
	"sync"
)

const (
	QueryChunk = "query:chunk"
	QueryDone  = "query:done"
	QueryError = "query:error"
)

// ChunkFor returns the chunk event name for one provider's stream.
func ChunkFor(providerID string) string {
	return QueryChunk + ":" + providerID
}

// DoneFor returns the completion event name for one provider's stream.
func DoneFor(providerID string) string {
	return QueryDone + ":" + providerID
}

// ErrorFor returns the failure event name for one provider's stream.
func ErrorFor(providerID string) string {
	return QueryError + ":" + providerID
}

// ProviderID extracts the provider id from a namespaced event name.
func ProviderID(name string) (string, bool) {
	for _, base := range []string{QueryChunk, QueryDone, QueryError} {
		if id, ok := strings.CutPrefix(name, base+":"); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// Emitter receives named events. Payloads are raw UTF-8 text.
type Emitter interface {
	Emit(name, payload string) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(name, payload string) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(name, payload string) error {
	return f(name, payload)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(string, string) error { return nil })

// Event is one recorded emission.
type Event struct {
	Name    string
	Payload string
}

// Recorder keeps every event it receives, in order. It is safe for
// concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(name, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Payload: payload})
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the payloads recorded under name, in order.
func (r *Recorder) Named(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev.Payload)
		}
	}
	return out
}
