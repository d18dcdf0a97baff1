package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

const (
	// DefaultScanRadius is used when the target height is unusable.
	DefaultScanRadius = 20
	// MinScanRadius is the smallest radius CircleRadius will return.
	MinScanRadius = 3
	// DefaultRadiusScale maps target height in pixels to the scan radius.
	// A 6 cm circle on the physical target spans 0.5782 of its height.
	DefaultRadiusScale = 0.2891

	// foreshortenGain scales how strongly edge-length asymmetry squashes the
	// affected axis.
	foreshortenGain = 1.2
	// minEdgeRatio bounds the foreshortening for extreme distortion.
	minEdgeRatio = 0.1
)

// EllipseParams describes the scan path a circle on the target projects to.
type EllipseParams struct {
	SemiMajor float64 `json:"semi_major"`
	SemiMinor float64 `json:"semi_minor"`
	Rotation  float64 `json:"rotation"`
}

// Circle returns undistorted parameters for radius r (floored at 1).
func Circle(r float64) EllipseParams {
	r = math.Max(1, r)
	return EllipseParams{SemiMajor: r, SemiMinor: r}
}

// CircleRadius converts the detected target height into a scan radius in
// pixels. Heights that are not positive yield DefaultScanRadius.
func CircleRadius(height int, scale float64) int {
	if height <= 0 || scale <= 0 || math.IsNaN(scale) {
		return DefaultScanRadius
	}
	r := int(math.Round(float64(height) * scale))
	if r < MinScanRadius {
		return MinScanRadius
	}
	return r
}

// EllipseFor estimates how a circle of baseRadius on the quad's plane is
// distorted by perspective. The edge pair (horizontal or vertical) whose
// lengths disagree most is treated as foreshortened.
//
// A non-positive radius is kept as a circle of radius 1. A non-finite radius
// has no usable value and yields Circle(DefaultScanRadius).
func EllipseFor(q Quad, baseRadius float64) EllipseParams {
	if math.IsNaN(baseRadius) || math.IsInf(baseRadius, 0) {
		return Circle(DefaultScanRadius)
	}
	if baseRadius <= 0 || !q.finite() {
		return Circle(baseRadius)
	}

	top := Distance(q[0], q[1])
	bottom := Distance(q[3], q[2])
	left := Distance(q[0], q[3])
	right := Distance(q[1], q[2])

	hRatio := edgeRatio(top, bottom)
	vRatio := edgeRatio(left, right)

	a := baseRadius
	if hRatio < vRatio {
		return EllipseParams{
			SemiMajor: math.Max(1, math.Trunc(a)),
			SemiMinor: math.Max(1, math.Trunc(a/foreshorten(hRatio))),
			Rotation:  math.Pi / 2,
		}
	}
	return EllipseParams{
		SemiMajor: math.Max(1, math.Trunc(a)),
		SemiMinor: math.Max(1, math.Trunc(a/foreshorten(vRatio))),
		Rotation:  0,
	}
}

// edgeRatio is shorter/longer for an opposing edge pair, 1 when both are zero.
func edgeRatio(e1, e2 float64) float64 {
	longest := math.Max(e1, e2)
	if longest <= 0 {
		return 1
	}
	return math.Min(e1, e2) / longest
}

func foreshorten(ratio float64) float64 {
	return 1 + (1-math.Max(minEdgeRatio, ratio))*foreshortenGain
}

// PointOnEllipse returns the parametric point (a·cos θ, b·sin θ) rotated by
// rotation about the origin and translated to center. Semi-axes are floored
// at 1. A non-finite angle yields the center itself. A non-finite center has
// no frame to fall back to and yields the origin; ScanPoint takes an integer
// center and never hits that case.
func PointOnEllipse(center r2.Vec, a, b, angle, rotation float64) r2.Vec {
	if !finiteVec(center) {
		return r2.Vec{}
	}
	if math.IsNaN(angle) || math.IsInf(angle, 0) || math.IsNaN(rotation) || math.IsInf(rotation, 0) {
		return center
	}
	a = math.Max(1, sanitize(a))
	b = math.Max(1, sanitize(b))

	p := r2.Vec{X: a * math.Cos(angle), Y: b * math.Sin(angle)}
	return r2.Add(center, r2.Rotate(p, rotation, r2.Vec{}))
}

// ScanPoint is PointOnEllipse rounded to whole pixels.
func ScanPoint(center Point, e EllipseParams, angle float64) Point {
	return roundPoint(PointOnEllipse(center.Vec(), e.SemiMajor, e.SemiMinor, angle, e.Rotation))
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 1
	}
	return math.Trunc(v)
}
