// Package geometry holds the pure image-space math used to turn a detected
// target rectangle into an aim point and a scan ellipse.
//
// Every function here is side-effect free and returns a safe default instead
// of an error when handed degenerate input.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is an integer pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Vec converts p to a float vector.
func (p Point) Vec() r2.Vec {
	return r2.Vec{X: float64(p.X), Y: float64(p.Y)}
}

// Clamp limits each axis of p to [lo, hi] independently.
func (p Point) Clamp(lo, hi int) Point {
	return Point{X: clampInt(p.X, lo, hi), Y: clampInt(p.Y, lo, hi)}
}

// Rect is an axis-aligned rectangle in pixel coordinates as reported by the
// detector for one connected region.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Area returns w*h.
func (r Rect) Area() int { return r.W * r.H }

// Empty reports whether the rectangle has no extent on either axis.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Frame describes the sensor resolution.
type Frame struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the frame area in pixels.
func (f Frame) Area() int { return f.Width * f.Height }

// Center returns the frame center, the fallback aim point for every
// degenerate computation.
func (f Frame) Center() Point {
	return Point{X: f.Width / 2, Y: f.Height / 2}
}

// Quad is an ordered corner sequence: top-left, top-right, bottom-right,
// bottom-left.
type Quad [4]r2.Vec

// Distance returns the euclidean distance between a and b. Non-finite input
// yields 0.
func Distance(a, b r2.Vec) float64 {
	d := r2.Norm(r2.Sub(a, b))
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return d
}

// ApproximateCorners returns the four axis-aligned corners of r ordered
// clockwise from top-left. True corner detection is not attempted.
func ApproximateCorners(r Rect) Quad {
	x0, y0 := float64(r.X), float64(r.Y)
	x1, y1 := float64(r.X+r.W), float64(r.Y+r.H)
	return Quad{
		{X: x0, Y: y0},
		{X: x1, Y: y0},
		{X: x1, Y: y1},
		{X: x0, Y: y1},
	}
}

// Centroid returns the arithmetic mean of the four corners.
func (q Quad) Centroid() r2.Vec {
	var sum r2.Vec
	for _, c := range q {
		sum = r2.Add(sum, c)
	}
	return r2.Scale(0.25, sum)
}

// finite reports whether every corner coordinate is a real number.
func (q Quad) finite() bool {
	for _, c := range q {
		if !finiteVec(c) {
			return false
		}
	}
	return true
}

// PerspectiveCenter intersects the diagonals TL-BR and TR-BL. When they are
// parallel (zero determinant) the corner centroid is used instead. Results are
// floored to whole pixels.
func PerspectiveCenter(q Quad, frame Frame) Point {
	if !q.finite() {
		return frame.Center()
	}

	p1, p2 := q[0], q[2]
	p3, p4 := q[1], q[3]

	d := r2.Cross(r2.Sub(p1, p2), r2.Sub(p3, p4))
	if d == 0 {
		return floorPoint(q.Centroid())
	}

	a := r2.Cross(p1, p2)
	b := r2.Cross(p3, p4)
	px := (a*(p3.X-p4.X) - (p1.X-p2.X)*b) / d
	py := (a*(p3.Y-p4.Y) - (p1.Y-p2.Y)*b) / d
	v := r2.Vec{X: px, Y: py}
	if !finiteVec(v) {
		return floorPoint(q.Centroid())
	}
	return floorPoint(v)
}

func floorPoint(v r2.Vec) Point {
	return Point{X: int(math.Floor(v.X)), Y: int(math.Floor(v.Y))}
}

func roundPoint(v r2.Vec) Point {
	return Point{X: int(math.Round(v.X)), Y: int(math.Round(v.Y))}
}

func finiteVec(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
