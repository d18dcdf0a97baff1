package protocol

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/aimtrack/internal/geometry"
)

// ErrShortWrite is returned when the transport accepted fewer bytes than a
// full packet.
var ErrShortWrite = errors.New("short write of target packet")

// SendGate throttles emission to at most one packet per interval.
type SendGate struct {
	last     time.Time
	sent     bool
	interval time.Duration
}

// NewSendGate returns a gate with the given interval that has never sent.
func NewSendGate(interval time.Duration) *SendGate {
	return &SendGate{interval: interval}
}

// Ready reports whether a packet may be sent at now.
// A reading earlier than the last send counts as zero elapsed.
func (g *SendGate) Ready(now time.Time) bool {
	if !g.sent {
		return true
	}
	return max(now.Sub(g.last), 0) >= g.interval
}

// SetInterval changes the minimum spacing. The last send time is kept so a
// mode change cannot cause a burst.
func (g *SendGate) SetInterval(d time.Duration) {
	g.interval = d
}

// Interval returns the active minimum spacing.
func (g *SendGate) Interval() time.Duration { return g.interval }

// LastSend returns when the gate last let a packet through. It is only
// meaningful when Sent reports true.
func (g *SendGate) LastSend() time.Time { return g.last }

// Sent reports whether the gate has let any packet through.
func (g *SendGate) Sent() bool { return g.sent }

// Mark records a successful send at now.
func (g *SendGate) Mark(now time.Time) {
	g.last = now
	g.sent = true
}

// Encoder frames points and writes them through a rate gate.
type Encoder struct {
	w    io.Writer
	gate *SendGate
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, gate *SendGate) *Encoder {
	return &Encoder{w: w, gate: gate}
}

// Gate exposes the encoder's rate gate.
func (e *Encoder) Gate() *SendGate { return e.gate }

// TryEmit sends p if the gate is open at now. It returns the clamped point
// actually written and true on success. A closed gate returns false and a nil
// error without touching the transport. The gate only advances when the
// whole packet was written.
func (e *Encoder) TryEmit(p geometry.Point, now time.Time) (geometry.Point, bool, error) {
	if !e.gate.Ready(now) {
		return geometry.Point{}, false, nil
	}

	pkt := EncodePacket(p)
	n, err := e.w.Write(pkt[:])
	if err != nil {
		return geometry.Point{}, false, fmt.Errorf("write target packet: %w", err)
	}
	if n != len(pkt) {
		return geometry.Point{}, false, fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(pkt))
	}

	e.gate.Mark(now)
	return Clamp(p), true, nil
}
