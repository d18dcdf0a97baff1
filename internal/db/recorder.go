package db

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/aimtrack/internal/controller"
	"github.com/banshee-data/aimtrack/internal/monitoring"
)

// DefaultRecorderBuffer is the number of events queued before the recorder
// starts dropping.
const DefaultRecorderBuffer = 256

type eventKind int

const (
	eventModeChange eventKind = iota
	eventEmission
	eventCycleError
)

type event struct {
	kind     eventKind
	at       time.Time
	from, to controller.Mode
	emission controller.Emission
	err      error
}

// Recorder is a controller.Observer that writes events to the database on its
// own goroutine. Callbacks never block the control loop: when the queue is
// full the event is dropped and counted.
type Recorder struct {
	db      *DB
	session string

	mu     sync.Mutex
	closed bool
	events chan event
	done   chan struct{}

	dropped   atomic.Uint64
	failed    atomic.Uint64
	dropLog   *monitoring.Sampler
	failedLog *monitoring.Sampler
}

// NewRecorder starts a recorder for session with the given queue size.
func NewRecorder(db *DB, session string, buffer int) *Recorder {
	if buffer < 1 {
		buffer = DefaultRecorderBuffer
	}
	r := &Recorder{
		db:        db,
		session:   session,
		events:    make(chan event, buffer),
		done:      make(chan struct{}),
		dropLog:   monitoring.NewSampler(100),
		failedLog: monitoring.NewSampler(100),
	}
	go r.loop()
	return r
}

func (r *Recorder) ModeChanged(from, to controller.Mode, at time.Time) {
	r.enqueue(event{kind: eventModeChange, from: from, to: to, at: at})
}

func (r *Recorder) Emitted(e controller.Emission) {
	r.enqueue(event{kind: eventEmission, emission: e, at: e.At})
}

func (r *Recorder) CycleFailed(err error, at time.Time) {
	r.enqueue(event{kind: eventCycleError, err: err, at: at})
}

func (r *Recorder) enqueue(ev event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		n := r.dropped.Add(1)
		r.dropLog.Logf("[db] recorder queue full, %d events dropped", n)
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.events {
		var err error
		switch ev.kind {
		case eventModeChange:
			err = r.db.InsertModeChange(r.session, ev.from, ev.to, ev.at)
		case eventEmission:
			err = r.db.InsertEmission(r.session, ev.emission)
		case eventCycleError:
			err = r.db.InsertCycleError(r.session, ev.err, ev.at)
		}
		if err != nil {
			n := r.failed.Add(1)
			r.failedLog.Logf("[db] recorder write failed (%d total): %v", n, err)
		}
	}
}

// Close stops accepting events and waits for the queue to drain.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	<-r.done
}

// Dropped returns the number of events discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Failed returns the number of events whose insert returned an error.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

// Session returns the session id events are recorded under.
func (r *Recorder) Session() string { return r.session }
