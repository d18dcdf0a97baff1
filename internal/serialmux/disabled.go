package serialmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledSerialMux stands in for the link when no controller is attached
// (-dev). Writes are accepted and traced but go nowhere; commands can still
// be injected through the admin console so the whole pipeline can be
// exercised from a browser.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	pending     []byte
	stats       Stats
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// publishLocked must be called with d.mu held.
func (d *DisabledSerialMux) publishLocked(line string) {
	for _, ch := range d.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (d *DisabledSerialMux) ReadAvailable() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

func (d *DisabledSerialMux) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return 0, ErrClosed
	}
	d.stats.BytesOut += uint64(len(p))
	d.publishLocked(traceLine("tx", p))
	return len(p), nil
}

func (d *DisabledSerialMux) Inject(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return ErrClosed
	}
	room := InboundCapacity - len(d.pending)
	if room < len(p) {
		d.stats.Dropped += uint64(len(p) - room)
		p = p[:room]
	}
	d.pending = append(d.pending, p...)
	d.stats.Injected += uint64(len(p))
	d.publishLocked(traceLine("inject", p))
	return nil
}

func (d *DisabledSerialMux) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Reopen() error { return nil }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.pending = nil
	return nil
}

// AttachAdminRoutes serves the same console as a real link.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
}
