// Package presencetest provides an in-memory Session for tests.
package presencetest

import (
	"sync"

	"github.com/chatsync/internal/event"
)

// Recorder is a Session that keeps every delivered envelope. Capacity < 0 means unbounded.
type Recorder struct {
	id       string
	userID   string
	capacity int

	mu     sync.Mutex
	events []event.Envelope
}

func NewRecorder(id, userID string) *Recorder {
	return &Recorder{id: id, userID: userID, capacity: -1}
}

// NewBounded returns a Recorder that refuses deliveries once it holds capacity events.
func NewBounded(id, userID string, capacity int) *Recorder {
	return &Recorder{id: id, userID: userID, capacity: capacity}
}

func (r *Recorder) ID() string     { return r.id }
func (r *Recorder) UserID() string { return r.userID }

func (r *Recorder) Deliver(ev event.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity >= 0 && len(r.events) >= r.capacity {
		return false
	}
	r.events = append(r.events, ev)
	return true
}

func (r *Recorder) Events() []event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Envelope(nil), r.events...)
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t event.Type) []event.Envelope {
	var out []event.Envelope
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
