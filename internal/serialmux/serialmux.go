// Serialmux provides an abstraction over the byte link to the aiming
// controller. A single Monitor goroutine owns reads from the port and queues
// inbound bytes for the control loop, while subscribers receive a hex trace of
// traffic in both directions for debugging.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/aimtrack/internal/httputil"
	"github.com/banshee-data/aimtrack/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("serial mux closed")
)

// InboundCapacity is the number of received bytes buffered between Monitor and
// the control loop. Bytes arriving while the queue is full are dropped.
const InboundCapacity = 1024

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

var logf = monitoring.Prefixed("serial")

// SerialMux owns a serial port, queues received bytes for a single consumer
// and fans a hex trace of all traffic out to subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	reopen       func() (T, error)
	inbound      chan byte
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	statsMu      sync.Mutex
	stats        Stats
}

// Stats counts link traffic.
type Stats struct {
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
	Dropped  uint64 `json:"dropped"`
	Injected uint64 `json:"injected"`
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel receiving a trace line for every chunk
	// read from or written to the port. The ID identifies the channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// ReadAvailable returns every queued inbound byte without blocking.
	ReadAvailable() []byte
	// Write sends p to the port in a single call.
	Write(p []byte) (int, error)
	// Inject queues bytes as though they had been received from the port.
	Inject(p []byte) error
	// Monitor reads from the port until ctx is done or the port fails.
	Monitor(context.Context) error
	// Reopen replaces a failed port with a freshly opened one. It must not
	// run while Monitor does.
	Reopen() error
	// Stats returns traffic counters.
	Stats() Stats
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux around an already opened port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		inbound:     make(chan byte, InboundCapacity),
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// traceLine formats a chunk of traffic for subscribers, e.g. "rx A1" or
// "tx 3C 3B 78 50 01 01".
func traceLine(dir string, p []byte) string {
	return fmt.Sprintf("%s % X", dir, p)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full/blocking skip so as not to block the caller
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// enqueue adds received bytes to the inbound queue and reports how many were
// dropped because it was full.
func (s *SerialMux[T]) enqueue(p []byte) int {
	dropped := 0
	for _, b := range p {
		select {
		case s.inbound <- b:
		default:
			dropped++
		}
	}
	return dropped
}

// ReadAvailable drains the inbound queue without blocking. It returns nil when
// nothing is pending.
func (s *SerialMux[T]) ReadAvailable() []byte {
	var out []byte
	for {
		select {
		case b := <-s.inbound:
			out = append(out, b)
		default:
			return out
		}
	}
}

// Write sends p to the port under the write lock. A short write is reported
// as ErrWriteFailed.
func (s *SerialMux[T]) Write(p []byte) (int, error) {
	if s.isClosing() {
		return 0, ErrClosed
	}

	s.writeMu.Lock()
	n, err := s.port.Write(p)
	s.writeMu.Unlock()

	if n > 0 {
		s.statsMu.Lock()
		s.stats.BytesOut += uint64(n)
		s.statsMu.Unlock()
		s.publish(traceLine("tx", p[:n]))
	}
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, ErrWriteFailed
	}
	return n, nil
}

// Inject queues p as received bytes. It is used by the admin console to issue
// mode commands without the controller attached.
func (s *SerialMux[T]) Inject(p []byte) error {
	if s.isClosing() {
		return ErrClosed
	}
	dropped := s.enqueue(p)

	s.statsMu.Lock()
	s.stats.Injected += uint64(len(p) - dropped)
	s.stats.Dropped += uint64(dropped)
	s.statsMu.Unlock()

	s.publish(traceLine("inject", p))
	if dropped > 0 {
		return fmt.Errorf("inbound queue full: dropped %d of %d bytes", dropped, len(p))
	}
	return nil
}

// Stats returns a snapshot of the traffic counters.
func (s *SerialMux[T]) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Monitor reads from the serial port, queues the bytes for ReadAvailable and
// traces them to subscribers. It returns when ctx is done, the port reports
// EOF or a read error, or the mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// the blocking Read runs in its own goroutine so the outer loop can still
	// observe context cancellation.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, 256)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErrChan <- err
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if s.isClosing() {
				return nil
			}
			return fmt.Errorf("read serial port: %w", err)

		case chunk, ok := <-chunkChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if s.isClosing() {
						return nil
					}
					return fmt.Errorf("read serial port: %w", err)
				default:
					return nil
				}
			}
			if s.isClosing() {
				return nil
			}

			dropped := s.enqueue(chunk)
			s.statsMu.Lock()
			s.stats.BytesIn += uint64(len(chunk))
			s.stats.Dropped += uint64(dropped)
			s.statsMu.Unlock()
			if dropped > 0 {
				logf("inbound queue full, dropped %d bytes", dropped)
			}
			s.publish(traceLine("rx", chunk))
		}
	}
}

// Reopen closes the current port and opens the device again. A mux built
// around an already opened port keeps it.
func (s *SerialMux[T]) Reopen() error {
	if s.isClosing() {
		return ErrClosed
	}
	if s.reopen == nil {
		return nil
	}
	port, err := s.reopen()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	old := s.port
	s.port = port
	s.writeMu.Unlock()

	if err := old.Close(); err != nil {
		logf("close failed port: %v", err)
	}
	return nil
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()

	s.writeMu.Lock()
	port := s.port
	s.writeMu.Unlock()
	return port.Close()
}

// parseHexBytes accepts "A1", "a1 a2" or "0xA3" style input.
func parseHexBytes(in string) ([]byte, error) {
	fields := strings.Fields(strings.ReplaceAll(in, ",", " "))
	var out []byte
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", f, err)
		}
		out = append(out, b...)
	}
	if len(out) == 0 {
		return nil, errors.New("no bytes")
	}
	return out, nil
}

// AttachAdminRoutes registers the serial console on the tsweb debug mux.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail monitor interface using the below API endpoints.
	debug.HandleFunc("send-command", "inject a mode command into the serial link", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to inject bytes into the inbound queue
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		payload, err := parseHexBytes(command)
		if err != nil {
			http.Error(w, "Invalid command: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.Inject(payload); err != nil {
			http.Error(w, "Failed to inject command: "+err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Injected % X", payload)
	})

	debug.HandleSilentFunc("serial-stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})

	// API endpoint to issue Server-Side Events (SSE) for every traced chunk.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
