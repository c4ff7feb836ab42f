// File: fake/processor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-tcp/api"
)

// Echo writes every message back to its session.
type Echo struct{}

func (Echo) Process(s api.Session, msg any)           { s.WriteMessage(msg) }
func (Echo) StateEvent(api.Session, api.Event, error) {}

// EventRecord is one observed lifecycle notification.
type EventRecord struct {
	Session api.Session
	Event   api.Event
	Err     error
}

// Recorder stores messages and events and optionally forwards messages to
// OnMessage. It is safe for concurrent use.
type Recorder struct {
	OnMessage func(s api.Session, msg any)

	mu       sync.Mutex
	messages []any
	events   []EventRecord
	changed  chan struct{}
}

var _ api.Processor = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

func (r *Recorder) Process(s api.Session, msg any) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.notifyLocked()
	r.mu.Unlock()
	if r.OnMessage != nil {
		r.OnMessage(s, msg)
	}
}

func (r *Recorder) StateEvent(s api.Session, ev api.Event, err error) {
	r.mu.Lock()
	r.events = append(r.events, EventRecord{Session: s, Event: ev, Err: err})
	r.notifyLocked()
	r.mu.Unlock()
}

func (r *Recorder) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.messages...)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventRecord(nil), r.events...)
}

// Count returns how many times ev was seen.
func (r *Recorder) Count(ev api.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(ev)
}

func (r *Recorder) countLocked(ev api.Event) int {
	n := 0
	for _, e := range r.events {
		if e.Event == ev {
			n++
		}
	}
	return n
}

// WaitEvent blocks until ev has been seen n times or timeout elapses.
func (r *Recorder) WaitEvent(ev api.Event, n int, timeout time.Duration) bool {
	return r.wait(func() bool { return r.countLocked(ev) >= n }, timeout)
}

// WaitMessages blocks until n messages were recorded or timeout elapses.
func (r *Recorder) WaitMessages(n int, timeout time.Duration) bool {
	return r.wait(func() bool { return len(r.messages) >= n }, timeout)
}

func (r *Recorder) wait(cond func() bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		if cond() {
			r.mu.Unlock()
			return true
		}
		ch := r.changed
		r.mu.Unlock()
		select {
		case <-ch:
		case <-deadline.C:
			return false
		}
	}
}
