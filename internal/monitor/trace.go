// Package monitor keeps a short in-memory history of controller output and
// renders it for the debug server.
package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/aimtrack/internal/controller"
)

// DefaultCapacity holds a few seconds of tracking output at the default send
// interval.
const DefaultCapacity = 512

// ModeMark records a mode change in the trace.
type ModeMark struct {
	At   time.Time       `json:"at"`
	From controller.Mode `json:"from"`
	To   controller.Mode `json:"to"`
}

// Trace is a controller.Observer that keeps the most recent emissions in a
// fixed-size ring.
type Trace struct {
	mu       sync.Mutex
	ring     []controller.Emission
	next     int
	full     bool
	marks    []ModeMark
	failures int
}

// NewTrace returns a Trace holding up to capacity emissions.
func NewTrace(capacity int) *Trace {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Trace{ring: make([]controller.Emission, capacity)}
}

func (t *Trace) ModeChanged(from, to controller.Mode, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks = append(t.marks, ModeMark{At: at, From: from, To: to})
	if len(t.marks) > len(t.ring) {
		t.marks = t.marks[1:]
	}
}

func (t *Trace) Emitted(e controller.Emission) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = e
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
}

func (t *Trace) CycleFailed(error, time.Time) {
	t.mu.Lock()
	t.failures++
	t.mu.Unlock()
}

// Emissions returns the buffered emissions oldest first.
func (t *Trace) Emissions() []controller.Emission {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]controller.Emission(nil), t.ring[:t.next]...)
	}
	out := make([]controller.Emission, 0, len(t.ring))
	out = append(out, t.ring[t.next:]...)
	return append(out, t.ring[:t.next]...)
}

// Marks returns the recorded mode changes oldest first.
func (t *Trace) Marks() []ModeMark {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ModeMark(nil), t.marks...)
}

// Failures returns the number of failed cycles seen.
func (t *Trace) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}
