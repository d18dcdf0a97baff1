// Package trajectory generates the circular scan path used in tracking mode.
//
// The phase follows an ideal uniform rotation through a first-order filter so
// per-cycle timing jitter does not show up as angular jumps, and the output
// point is exponentially smoothed against the previous one to damp
// frame-to-frame geometry noise.
package trajectory

import (
	"math"
	"time"

	"github.com/banshee-data/aimtrack/internal/geometry"
)

const twoPi = 2 * math.Pi

// Config tunes the generator.
type Config struct {
	// Period is the duration of one full revolution.
	Period time.Duration
	// PhaseGain is the fraction of the angular error corrected per advance.
	PhaseGain float64
	// Smoothing is the weight given to the previous output point.
	Smoothing float64
}

// DefaultConfig returns the calibrated defaults: a 15 s revolution, 0.3 phase
// gain and 0.7 smoothing.
func DefaultConfig() Config {
	return Config{
		Period:    15 * time.Second,
		PhaseGain: 0.3,
		Smoothing: 0.7,
	}
}

// ScanState is the mutable state of one continuous tracking session.
// The zero value is the fresh "not started" state.
type ScanState struct {
	Phase float64
	// Start is zero until the first advance.
	Start time.Time
	// Last is nil until a point has been produced.
	Last *geometry.Point
}

// Started reports whether a revolution is in progress.
func (s ScanState) Started() bool { return !s.Start.IsZero() }

// Generator advances a ScanState.
type Generator struct {
	cfg   Config
	state ScanState
}

// New returns a Generator in the fresh state. Out-of-range config values fall
// back to the defaults.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.PhaseGain <= 0 || cfg.PhaseGain > 1 {
		cfg.PhaseGain = def.PhaseGain
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = def.Smoothing
	}
	return &Generator{cfg: cfg}
}

// Reset discards the phase, start time and previous point so the next
// Advance begins a new revolution at zero.
func (g *Generator) Reset() {
	g.state = ScanState{}
}

// State returns a copy of the current scan state.
func (g *Generator) State() ScanState {
	s := g.state
	if s.Last != nil {
		p := *s.Last
		s.Last = &p
	}
	return s
}

// Config returns the effective configuration.
func (g *Generator) Config() Config { return g.cfg }

// IdealAngle is the angle a perfectly uniform rotation that began at start
// would have reached at now.
func (g *Generator) IdealAngle(start, now time.Time) float64 {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	frac := float64(elapsed%g.cfg.Period) / float64(g.cfg.Period)
	return frac * twoPi
}

// Step moves phase toward ideal by the configured gain along the shortest arc
// and returns the new phase in [0, 2π).
func (g *Generator) Step(phase, ideal float64) float64 {
	return NormalizeAngle(phase + g.cfg.PhaseGain*ShortestArc(phase, ideal))
}

// Advance moves the scan one step at now and returns the smoothed point on
// the ellipse around center.
func (g *Generator) Advance(now time.Time, center geometry.Point, e geometry.EllipseParams) geometry.Point {
	if !g.state.Started() {
		g.state.Start = now
		g.state.Phase = 0
	}

	ideal := g.IdealAngle(g.state.Start, now)
	g.state.Phase = g.Step(g.state.Phase, ideal)

	raw := geometry.PointOnEllipse(center.Vec(), e.SemiMajor, e.SemiMinor, g.state.Phase, e.Rotation)
	out := geometry.Point{X: int(math.Round(raw.X)), Y: int(math.Round(raw.Y))}
	if prev := g.state.Last; prev != nil {
		f := g.cfg.Smoothing
		out = geometry.Point{
			X: int(math.Round(raw.X*(1-f) + float64(prev.X)*f)),
			Y: int(math.Round(raw.Y*(1-f) + float64(prev.Y)*f)),
		}
	}
	g.state.Last = &out
	return out
}

// ShortestArc returns the signed angle from "from" to "to" wrapped into
// [-π, π].
func ShortestArc(from, to float64) float64 {
	d := math.Mod(to-from, twoPi)
	if d > math.Pi {
		d -= twoPi
	} else if d < -math.Pi {
		d += twoPi
	}
	return d
}

// NormalizeAngle wraps a into [0, 2π).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	if a >= twoPi {
		a = 0
	}
	return a
}
