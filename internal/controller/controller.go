// Package controller runs the aiming state machine: it polls mode commands
// from the link, pulls one frame of candidates from the detector, picks and
// corrects the target and emits either its center or the next point of the
// scan ellipse through the rate-gated encoder.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/aimtrack/internal/config"
	"github.com/banshee-data/aimtrack/internal/geometry"
	"github.com/banshee-data/aimtrack/internal/monitoring"
	"github.com/banshee-data/aimtrack/internal/protocol"
	"github.com/banshee-data/aimtrack/internal/target"
	"github.com/banshee-data/aimtrack/internal/timeutil"
	"github.com/banshee-data/aimtrack/internal/trajectory"
)

var (
	// ErrDetector wraps failures of the frame source.
	ErrDetector = errors.New("detector failure")
	// ErrTransport wraps failures writing to the link.
	ErrTransport = errors.New("transport failure")
	// ErrCyclePanic wraps a panic recovered inside a cycle.
	ErrCyclePanic = errors.New("panic in control cycle")
)

var logf = monitoring.Prefixed("controller")

// Detector is the frame source. Open (re)initializes the capture device and
// Candidates returns the regions found in the next frame.
type Detector interface {
	Open(ctx context.Context) error
	Candidates(ctx context.Context) ([]target.Candidate, error)
}

// Link is the duplex byte transport to the aiming controller.
type Link interface {
	ReadAvailable() []byte
	Write(p []byte) (int, error)
}

// Config holds the controller's tunables.
type Config struct {
	Frame            geometry.Frame
	Thresholds       target.Thresholds
	AimInterval      time.Duration
	TrackingInterval time.Duration
	Trajectory       trajectory.Config
	RadiusScale      float64

	ErrorBackoff  time.Duration
	ReinitBackoff time.Duration
	IdlePoll      time.Duration
	DrainTimeout  time.Duration
	// DegradeAfter consecutive detector failures mark the detector degraded.
	DegradeAfter int
	// StatusLogEvery samples the per-frame log lines.
	StatusLogEvery int
}

// cycleYield is the pause between busy cycles.
const cycleYield = time.Millisecond

// ConfigFromTuning maps the tuning file onto controller settings.
func ConfigFromTuning(tc *config.TuningConfig) Config {
	return Config{
		Frame: geometry.Frame{Width: tc.GetFrameWidth(), Height: tc.GetFrameHeight()},
		Thresholds: target.Thresholds{
			MinRectArea:       tc.GetMinRectArea(),
			MaxAreaFraction:   tc.GetMaxAreaFraction(),
			LargeAreaFraction: tc.GetLargeAreaFraction(),
			MaxLargeDensity:   tc.GetMaxLargeDensity(),
			MaxAspectRatio:    tc.GetMaxAspectRatio(),
			MinShapeFactor:    tc.GetMinShapeFactor(),
		},
		AimInterval:      tc.GetAimSendInterval(),
		TrackingInterval: tc.GetTrackingSendInterval(),
		Trajectory: trajectory.Config{
			Period:    tc.GetScanPeriod(),
			PhaseGain: tc.GetPhaseGain(),
			Smoothing: tc.GetSmoothingFactor(),
		},
		RadiusScale:    tc.GetRadiusScale(),
		ErrorBackoff:   tc.GetErrorBackoff(),
		ReinitBackoff:  tc.GetReinitBackoff(),
		IdlePoll:       tc.GetIdlePoll(),
		DrainTimeout:   tc.GetDrainTimeout(),
		DegradeAfter:   tc.GetDegradeAfter(),
		StatusLogEvery: tc.GetStatusLogEvery(),
	}
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// Outcome classifies what a single cycle did.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeCommand
	OutcomeReinit
	OutcomeNoTarget
	OutcomeThrottled
	OutcomeEmitted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeCommand:
		return "command"
	case OutcomeReinit:
		return "reinit"
	case OutcomeNoTarget:
		return "no-target"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeEmitted:
		return "emitted"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Controller owns all mutable control state. Tick and Run must be called from
// a single goroutine; Status is safe to call concurrently.
type Controller struct {
	cfg   Config
	clock timeutil.Clock
	det   Detector
	link  Link
	obs   Observer

	validator *target.Validator
	gen       *trajectory.Generator
	gate      *protocol.SendGate
	enc       *protocol.Encoder

	mode     Mode
	degraded bool
	failures int
	frames   uint64
	frameLog *monitoring.Sampler
	emitted  uint64
	lastEmit *Emission
	radius   int

	statusMu sync.Mutex
	status   Status
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the real clock, mainly for tests.
func WithClock(c timeutil.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(ctl *Controller) { ctl.obs = o }
}

// New returns a Controller in Idle mode.
func New(cfg Config, det Detector, link Link, opts ...Option) *Controller {
	if cfg.DegradeAfter < 1 {
		cfg.DegradeAfter = 1
	}
	if cfg.StatusLogEvery < 1 {
		cfg.StatusLogEvery = 1
	}
	if cfg.RadiusScale <= 0 {
		cfg.RadiusScale = geometry.DefaultRadiusScale
	}

	gate := protocol.NewSendGate(cfg.AimInterval)
	c := &Controller{
		cfg:       cfg,
		clock:     timeutil.RealClock{},
		det:       det,
		link:      link,
		obs:       nopObserver{},
		validator: target.NewValidator(cfg.Frame, cfg.Thresholds),
		gen:       trajectory.New(cfg.Trajectory),
		gate:      gate,
		enc:       protocol.NewEncoder(link, gate),
		frameLog:  monitoring.NewSampler(cfg.StatusLogEvery),
		mode:      Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publishStatus(nil)
	return c
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode { return c.mode }

// Degraded reports whether the detector is waiting for re-initialization.
func (c *Controller) Degraded() bool { return c.degraded }

// HandleCommand applies a command byte. Unrecognized bytes are ignored and
// reported as false.
func (c *Controller) HandleCommand(b byte) bool {
	cmd, ok := protocol.ParseCommand(b)
	if !ok {
		logf("ignoring unknown command 0x%02X", b)
		return false
	}
	to, _ := ModeFor(cmd)
	logf(">>> command %s (%s)", cmd, cmd.Description())
	c.setMode(to)
	return true
}

func (c *Controller) setMode(to Mode) {
	from := c.mode
	c.mode = to

	switch to {
	case AimBullseye:
		c.gate.SetInterval(c.cfg.AimInterval)
	case CircleTracking:
		c.gate.SetInterval(c.cfg.TrackingInterval)
	}
	// entering tracking starts a fresh revolution and leaving it drops the
	// stale phase, so every command resets the scan
	c.gen.Reset()
	c.radius = 0

	if from != to {
		logf("mode %s -> %s (send interval %s)", from, to, c.gate.Interval())
	}
	c.obs.ModeChanged(from, to, c.clock.Now())
}

// pollCommand takes the first pending byte as the command and drains the rest
// of the backlog for at most DrainTimeout.
func (c *Controller) pollCommand() (byte, bool) {
	data := c.link.ReadAvailable()
	if len(data) == 0 {
		return 0, false
	}
	cmd := data[0]
	discarded := len(data) - 1

	start := c.clock.Now()
	for {
		if timeutil.Elapsed(start, c.clock.Now()) > c.cfg.DrainTimeout {
			logf("draining inbound backlog timed out after %s", c.cfg.DrainTimeout)
			break
		}
		more := c.link.ReadAvailable()
		if len(more) == 0 {
			break
		}
		discarded += len(more)
	}
	if discarded > 0 {
		logf("discarded %d trailing inbound bytes", discarded)
	}
	return cmd, true
}

// Tick runs one control cycle. Expected empty results (idle, no target,
// throttled) are outcomes with a nil error; only detector and transport faults
// are errors. A panic inside the cycle is recovered and returned as an error.
func (c *Controller) Tick(ctx context.Context) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = OutcomeFailed, fmt.Errorf("%w: %v", ErrCyclePanic, r)
		}
		c.publishStatus(err)
	}()

	if b, ok := c.pollCommand(); ok && c.HandleCommand(b) {
		return OutcomeCommand, nil
	}

	if c.mode == Idle {
		return OutcomeIdle, nil
	}

	if c.degraded {
		return c.reinit(ctx)
	}

	c.frames++
	logNow := c.frameLog.Allow()

	cands, err := c.detect(ctx)
	if err != nil {
		return OutcomeFailed, c.detectorFailed(err)
	}
	c.failures = 0

	rect, ok := c.validator.Select(cands)
	if !ok {
		if logNow {
			logf("[%s] no target found", c.mode)
		}
		return OutcomeNoTarget, nil
	}

	quad := geometry.ApproximateCorners(rect)
	center := geometry.PerspectiveCenter(quad, c.cfg.Frame)
	now := c.clock.Now()

	switch c.mode {
	case AimBullseye:
		return c.emit(Emission{At: now, Mode: AimBullseye, Point: center, Center: center}, logNow)

	case CircleTracking:
		c.radius = geometry.CircleRadius(rect.H, c.cfg.RadiusScale)
		// the scan only advances when a packet can actually go out
		if !c.gate.Ready(now) {
			return OutcomeThrottled, nil
		}
		e := geometry.EllipseFor(quad, float64(c.radius))
		p := c.gen.Advance(now, center, e)
		return c.emit(Emission{
			At:      now,
			Mode:    CircleTracking,
			Point:   p,
			Center:  center,
			Radius:  c.radius,
			Ellipse: &e,
			Phase:   c.gen.State().Phase,
		}, logNow)
	}
	return OutcomeIdle, nil
}

func (c *Controller) emit(e Emission, logNow bool) (Outcome, error) {
	sent, ok, err := c.enc.TryEmit(e.Point, e.At)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if !ok {
		return OutcomeThrottled, nil
	}

	e.Point = sent
	c.emitted++
	c.lastEmit = &e
	c.obs.Emitted(e)

	if logNow {
		switch e.Mode {
		case AimBullseye:
			logf("[aim] locked, sent (%d,%d)", sent.X, sent.Y)
		case CircleTracking:
			logf("[tracking] R:%d | point (%d,%d) @%d°", e.Radius, sent.X, sent.Y, int(e.Phase*180/math.Pi))
		}
	}
	return OutcomeEmitted, nil
}

// detect calls the detector, converting a panic in the capture driver into a
// detector error.
func (c *Controller) detect(ctx context.Context) (cands []target.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.det.Candidates(ctx)
}

func (c *Controller) detectorFailed(err error) error {
	c.failures++
	if !c.degraded && c.failures >= c.cfg.DegradeAfter {
		c.degraded = true
		logf("detector degraded after %d consecutive failures, will re-initialize", c.failures)
	}
	return fmt.Errorf("%w: %w", ErrDetector, err)
}

func (c *Controller) openDetector(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.det.Open(ctx)
}

func (c *Controller) reinit(ctx context.Context) (Outcome, error) {
	if err := c.openDetector(ctx); err != nil {
		return OutcomeReinit, fmt.Errorf("%w: re-initialize: %w", ErrDetector, err)
	}
	c.degraded = false
	c.failures = 0
	logf("detector re-initialized")
	return OutcomeReinit, nil
}

// Run executes cycles until ctx is done. It opens the detector first; if that
// fails the controller starts degraded and keeps retrying. No cycle error is
// fatal.
func (c *Controller) Run(ctx context.Context) error {
	logf("available commands:")
	for _, cmd := range protocol.Commands {
		logf("  %s: %s", cmd, cmd.Description())
	}

	if err := c.openDetector(ctx); err != nil {
		logf("detector initialization failed: %v", err)
		c.degraded = true
		c.obs.CycleFailed(fmt.Errorf("%w: %w", ErrDetector, err), c.clock.Now())
	}
	// stale bytes from before startup are not commands
	if stale := c.link.ReadAvailable(); len(stale) > 0 {
		logf("discarded %d stale inbound bytes", len(stale))
	}
	logf("waiting for commands in %s mode", c.mode)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if c.degraded && c.mode != Idle {
			if err := timeutil.SleepContext(ctx, c.clock, c.cfg.ReinitBackoff); err != nil {
				return err
			}
		}

		out, err := c.Tick(ctx)

		pause := cycleYield
		switch {
		case out == OutcomeReinit:
			// ReinitBackoff before the next attempt is the only pause
			pause = 0
		case err != nil:
			pause = c.cfg.ErrorBackoff
		case out == OutcomeIdle:
			pause = c.cfg.IdlePoll
		}
		if err != nil {
			logf("cycle failed: %v", err)
			c.obs.CycleFailed(err, c.clock.Now())
		}

		if err := timeutil.SleepContext(ctx, c.clock, pause); err != nil {
			return err
		}
	}
}
