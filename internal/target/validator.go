// Package target picks the single aiming target out of the dark regions a
// detector reports for one frame.
package target

import (
	"math"
	"sync"

	"github.com/banshee-data/aimtrack/internal/geometry"
)

// Candidate is one connected region reported by the detector.
type Candidate struct {
	Rect      geometry.Rect `json:"rect"`
	Pixels    int           `json:"pixels"`
	Perimeter float64       `json:"perimeter"`
}

// Density is filled pixels over bounding-rectangle area (0 for empty rects).
func (c Candidate) Density() float64 {
	area := c.Rect.Area()
	if area <= 0 {
		return 0
	}
	return float64(c.Pixels) / float64(area)
}

// AspectRatio is the long side over the short side (+Inf for empty rects).
func (c Candidate) AspectRatio() float64 {
	long, short := c.Rect.W, c.Rect.H
	if short > long {
		long, short = short, long
	}
	if short <= 0 {
		return math.Inf(1)
	}
	return float64(long) / float64(short)
}

// ShapeFactor is perimeter²/(4π·pixels): 1 for a filled disc, larger for
// elongated or hollow regions. Regions without pixels score 0.
func (c Candidate) ShapeFactor() float64 {
	if c.Pixels <= 0 {
		return 0
	}
	return c.Perimeter * c.Perimeter / (4 * math.Pi * float64(c.Pixels))
}

// Thresholds are the calibrated acceptance limits. They were tuned against a
// specific bordered paper target and sensor; change them through config, not
// here.
type Thresholds struct {
	MinRectArea       float64 `json:"min_rect_area"`
	MaxAreaFraction   float64 `json:"max_area_fraction"`
	LargeAreaFraction float64 `json:"large_area_fraction"`
	MaxLargeDensity   float64 `json:"max_large_density"`
	MaxAspectRatio    float64 `json:"max_aspect_ratio"`
	MinShapeFactor    float64 `json:"min_shape_factor"`
}

// DefaultThresholds returns the calibrated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinRectArea:       1000,
		MaxAreaFraction:   0.95,
		LargeAreaFraction: 0.75,
		MaxLargeDensity:   0.6,
		MaxAspectRatio:    4,
		MinShapeFactor:    1.1,
	}
}

// Rejection is the reason a candidate was discarded.
type Rejection int

const (
	Accepted Rejection = iota
	RejectDegenerate
	RejectEdge
	RejectFlood
	RejectAspect
	RejectArea
	RejectShape
)

func (r Rejection) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectDegenerate:
		return "degenerate"
	case RejectEdge:
		return "edge"
	case RejectFlood:
		return "flood"
	case RejectAspect:
		return "aspect"
	case RejectArea:
		return "area"
	case RejectShape:
		return "shape"
	default:
		return "unknown"
	}
}

// Validator filters candidates against a frame size and thresholds. It keeps
// running rejection counters for diagnostics.
type Validator struct {
	frame geometry.Frame
	th    Thresholds

	mu     sync.Mutex
	counts map[Rejection]int
}

// NewValidator returns a Validator for the given frame.
func NewValidator(frame geometry.Frame, th Thresholds) *Validator {
	return &Validator{
		frame:  frame,
		th:     th,
		counts: make(map[Rejection]int),
	}
}

// Check classifies one candidate. Rules are applied in order and the first
// failing rule wins.
func (v *Validator) Check(c Candidate) Rejection {
	r := c.Rect
	if r.W == 0 || r.H == 0 || r.Empty() {
		return RejectDegenerate
	}

	// regions touching the border are usually uneven lighting at the frame edge
	if r.X <= 0 || r.Y <= 0 || r.X+r.W >= v.frame.Width || r.Y+r.H >= v.frame.Height {
		return RejectEdge
	}

	area := float64(r.Area())
	frameArea := float64(v.frame.Area())
	if area > frameArea*v.th.LargeAreaFraction && c.Density() > v.th.MaxLargeDensity {
		return RejectFlood
	}

	if c.AspectRatio() >= v.th.MaxAspectRatio {
		return RejectAspect
	}
	if area <= v.th.MinRectArea || area >= frameArea*v.th.MaxAreaFraction {
		return RejectArea
	}
	if c.ShapeFactor() <= v.th.MinShapeFactor {
		return RejectShape
	}
	return Accepted
}

// Select returns the accepted candidate with the largest rectangle area.
// Ties keep the earliest candidate. ok is false when nothing survives, which
// is the normal outcome for most frames without a target in view.
func (v *Validator) Select(cands []Candidate) (best geometry.Rect, ok bool) {
	bestArea := -1
	tally := make(map[Rejection]int, 4)
	for _, c := range cands {
		reason := v.Check(c)
		tally[reason]++
		if reason != Accepted {
			continue
		}
		if a := c.Rect.Area(); a > bestArea {
			best, bestArea, ok = c.Rect, a, true
		}
	}

	v.mu.Lock()
	for k, n := range tally {
		v.counts[k] += n
	}
	v.mu.Unlock()

	return best, ok
}

// Counts returns a copy of the per-reason counters keyed by reason name.
func (v *Validator) Counts() map[string]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]int, len(v.counts))
	for k, n := range v.counts {
		out[k.String()] = n
	}
	return out
}

// Frame returns the frame size the validator checks against.
func (v *Validator) Frame() geometry.Frame { return v.frame }
