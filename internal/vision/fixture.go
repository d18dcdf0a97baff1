package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/aimtrack/internal/geometry"
	"github.com/banshee-data/aimtrack/internal/target"
	"github.com/banshee-data/aimtrack/internal/timeutil"
)

// ErrNotOpen is returned by Candidates before a successful Open.
var ErrNotOpen = errors.New("detector not open")

// DefaultFrameInterval paces replay at roughly the camera frame rate.
const DefaultFrameInterval = 33 * time.Millisecond

// Fixture is a recorded sequence of detector frames.
type Fixture struct {
	// FrameInterval is a duration string like "33ms"; empty uses the default.
	FrameInterval string               `json:"frame_interval,omitempty"`
	Frames        [][]target.Candidate `json:"frames"`
}

// LoadFixture reads a Fixture from a JSON file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(fx.Frames) == 0 {
		return nil, fmt.Errorf("fixture %s has no frames", path)
	}
	if fx.FrameInterval != "" {
		if _, err := time.ParseDuration(fx.FrameInterval); err != nil {
			return nil, fmt.Errorf("fixture %s: invalid frame_interval: %w", path, err)
		}
	}
	return &fx, nil
}

func (f *Fixture) interval() time.Duration {
	if f.FrameInterval == "" {
		return DefaultFrameInterval
	}
	d, _ := time.ParseDuration(f.FrameInterval)
	return d
}

// FixtureDetector replays a Fixture in a loop, one frame per call, paced at
// the fixture's frame interval.
type FixtureDetector struct {
	fx     *Fixture
	filter BlobFilter
	clock  timeutil.Clock

	mu     sync.Mutex
	open   bool
	next   int
	last   time.Time
	served uint64
}

// NewFixtureDetector returns a detector replaying fx through filter.
func NewFixtureDetector(fx *Fixture, filter BlobFilter, clock timeutil.Clock) *FixtureDetector {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FixtureDetector{fx: fx, filter: filter, clock: clock}
}

// Open rewinds the replay.
func (d *FixtureDetector) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.next = 0
	d.last = time.Time{}
	return ctx.Err()
}

// Candidates waits for the next frame slot and returns its filtered regions.
func (d *FixtureDetector) Candidates(ctx context.Context) ([]target.Candidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, ErrNotOpen
	}

	if !d.last.IsZero() {
		wait := d.fx.interval() - timeutil.Elapsed(d.last, d.clock.Now())
		if err := timeutil.SleepContext(ctx, d.clock, wait); err != nil {
			return nil, err
		}
	}
	d.last = d.clock.Now()

	frame := d.fx.Frames[d.next]
	d.next = (d.next + 1) % len(d.fx.Frames)
	d.served++
	return d.filter.Apply(frame), nil
}

// Served returns the number of frames handed out.
func (d *FixtureDetector) Served() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.served
}

// SyntheticFixture builds a fixture of a hollow bordered target of size w×h
// wandering around the frame center by up to jitter pixels, plus a dark
// screen-edge strip that the validator must reject.
func SyntheticFixture(frame geometry.Frame, w, h, jitter, frames int, seed int64) *Fixture {
	rng := rand.New(rand.NewSource(seed))
	c := frame.Center()
	fx := &Fixture{Frames: make([][]target.Candidate, frames)}
	for i := range fx.Frames {
		dx, dy := 0, 0
		if jitter > 0 {
			dx, dy = rng.Intn(2*jitter+1)-jitter, rng.Intn(2*jitter+1)-jitter
		}
		rect := geometry.Rect{X: c.X - w/2 + dx, Y: c.Y - h/2 + dy, W: w, H: h}
		border := max(2, min(w, h)/12)
		fx.Frames[i] = []target.Candidate{
			{
				Rect:      rect,
				Pixels:    w*h - (w-2*border)*(h-2*border),
				Perimeter: float64(2*(w+h) + 2*(w+h-4*border)),
			},
			{
				Rect:      geometry.Rect{X: 0, Y: 0, W: frame.Width, H: 12},
				Pixels:    frame.Width * 12,
				Perimeter: float64(2 * (frame.Width + 12)),
			},
		}
	}
	return fx
}
