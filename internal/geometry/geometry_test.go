package geometry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

var testFrame = Frame{Width: 240, Height: 160}

func TestApproximateCorners(t *testing.T) {
	q := ApproximateCorners(Rect{X: 10, Y: 20, W: 30, H: 40})
	want := Quad{{X: 10, Y: 20}, {X: 40, Y: 20}, {X: 40, Y: 60}, {X: 10, Y: 60}}
	if q != want {
		t.Errorf("ApproximateCorners() = %v, want %v", q, want)
	}
}

func TestPerspectiveCenter(t *testing.T) {
	tests := []struct {
		name string
		quad Quad
		want Point
	}{
		{
			name: "axis aligned square",
			quad: ApproximateCorners(Rect{X: 20, Y: 20, W: 60, H: 60}),
			want: Point{X: 50, Y: 50},
		},
		{
			name: "axis aligned rectangle",
			quad: ApproximateCorners(Rect{X: 70, Y: 40, W: 100, H: 80}),
			want: Point{X: 120, Y: 80},
		},
		{
			name: "trapezoid uses diagonal intersection, not centroid",
			quad: Quad{{X: 40, Y: 20}, {X: 160, Y: 20}, {X: 140, Y: 120}, {X: 60, Y: 120}},
			want: Point{X: 100, Y: 80},
		},
		{
			name: "collapsed quad falls back to centroid",
			quad: Quad{{X: 10, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 10}},
			want: Point{X: 10, Y: 10},
		},
		{
			name: "NaN corner yields frame center",
			quad: Quad{{X: math.NaN(), Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}},
			want: Point{X: 120, Y: 80},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := PerspectiveCenter(tc.quad, testFrame)
			if got != tc.want {
				t.Errorf("PerspectiveCenter() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestPerspectiveCenter_SquareMatchesCentroid(t *testing.T) {
	for side := 2; side <= 120; side += 2 {
		q := ApproximateCorners(Rect{X: 5, Y: 7, W: side, H: side})
		c := q.Centroid()
		got := PerspectiveCenter(q, testFrame)
		if got.X != int(c.X) || got.Y != int(c.Y) {
			t.Fatalf("side %d: center %+v != centroid %v", side, got, c)
		}
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(r2.Vec{X: 0, Y: 0}, r2.Vec{X: 3, Y: 4}); d != 5 {
		t.Errorf("Distance() = %v, want 5", d)
	}
	if d := Distance(r2.Vec{X: math.Inf(1)}, r2.Vec{}); d != 0 {
		t.Errorf("Distance() with Inf = %v, want 0", d)
	}
}

func TestCircleRadius(t *testing.T) {
	tests := []struct {
		height int
		want   int
	}{
		{height: 80, want: 23},
		{height: 85, want: 25},
		{height: 100, want: 29},
		{height: 120, want: 35},
		{height: 5, want: MinScanRadius},
		{height: 0, want: DefaultScanRadius},
		{height: -4, want: DefaultScanRadius},
	}
	for _, tc := range tests {
		if got := CircleRadius(tc.height, DefaultRadiusScale); got != tc.want {
			t.Errorf("CircleRadius(%d) = %d, want %d", tc.height, got, tc.want)
		}
	}
}

func TestEllipseFor(t *testing.T) {
	tests := []struct {
		name   string
		quad   Quad
		radius float64
		want   EllipseParams
	}{
		{
			name:   "rectangle is undistorted",
			quad:   ApproximateCorners(Rect{X: 70, Y: 40, W: 100, H: 80}),
			radius: 23,
			want:   EllipseParams{SemiMajor: 23, SemiMinor: 23, Rotation: 0},
		},
		{
			name: "horizontal edges disagree",
			// top 120, bottom 60 -> ratio 0.5 -> factor 1.6
			quad:   Quad{{X: 40, Y: 20}, {X: 160, Y: 20}, {X: 130, Y: 120}, {X: 70, Y: 120}},
			radius: 30,
			want:   EllipseParams{SemiMajor: 30, SemiMinor: 18, Rotation: math.Pi / 2},
		},
		{
			name: "vertical edges disagree",
			// left 100, right 50 -> ratio 0.5
			quad:   Quad{{X: 20, Y: 20}, {X: 120, Y: 45}, {X: 120, Y: 95}, {X: 20, Y: 120}},
			radius: 30,
			want:   EllipseParams{SemiMajor: 30, SemiMinor: 18, Rotation: 0},
		},
		{
			name:   "degenerate quad keeps radius",
			quad:   Quad{},
			radius: 12,
			want:   EllipseParams{SemiMajor: 12, SemiMinor: 12},
		},
		{
			name:   "non-positive radius is kept at one",
			quad:   ApproximateCorners(Rect{X: 1, Y: 1, W: 10, H: 10}),
			radius: 0,
			want:   EllipseParams{SemiMajor: 1, SemiMinor: 1},
		},
		{
			name:   "non-finite radius falls back",
			quad:   ApproximateCorners(Rect{X: 1, Y: 1, W: 10, H: 10}),
			radius: math.Inf(1),
			want:   Circle(DefaultScanRadius),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := EllipseFor(tc.quad, tc.radius)
			if got != tc.want {
				t.Errorf("EllipseFor() = %+v, want %+v", got, tc.want)
			}
			if got.SemiMajor < 1 || got.SemiMinor < 1 {
				t.Errorf("semi axes below 1: %+v", got)
			}
		})
	}
}

func TestEllipseFor_ExtremeDistortionIsBounded(t *testing.T) {
	// bottom edge almost vanishes; ratio is floored at 0.1 -> factor 2.08
	q := Quad{{X: 0, Y: 0}, {X: 200, Y: 0}, {X: 101, Y: 100}, {X: 100, Y: 100}}
	got := EllipseFor(q, 100)
	if got.SemiMinor != 48 {
		t.Errorf("SemiMinor = %v, want 48", got.SemiMinor)
	}
	if got.Rotation != math.Pi/2 {
		t.Errorf("Rotation = %v, want pi/2", got.Rotation)
	}
}

func TestPointOnEllipse(t *testing.T) {
	center := r2.Vec{X: 100, Y: 60}
	const eps = 1e-9

	p := PointOnEllipse(center, 30, 20, 0, 0)
	if p != (r2.Vec{X: 130, Y: 60}) {
		t.Errorf("angle 0 = %v, want (130,60)", p)
	}

	p = PointOnEllipse(center, 30, 20, math.Pi/2, 0)
	if math.Abs(p.X-100) > eps || math.Abs(p.Y-80) > eps {
		t.Errorf("angle pi/2 = %v, want (100,80)", p)
	}

	p = PointOnEllipse(center, 30, 20, 0, math.Pi/2)
	if math.Abs(p.X-100) > eps || math.Abs(p.Y-90) > eps {
		t.Errorf("rotated angle 0 = %v, want (100,90)", p)
	}

	// semi-axes are clamped to at least 1
	p = PointOnEllipse(center, -5, 0, 0, 0)
	if p != (r2.Vec{X: 101, Y: 60}) {
		t.Errorf("clamped axes = %v, want (101,60)", p)
	}

	if p := PointOnEllipse(center, 30, 20, math.NaN(), 0); p != center {
		t.Errorf("NaN angle = %v, want center", p)
	}
}

func TestScanPoint(t *testing.T) {
	c := Point{X: 120, Y: 80}
	e := EllipseParams{SemiMajor: 23, SemiMinor: 17}
	if got := ScanPoint(c, e, 0); got != (Point{X: 143, Y: 80}) {
		t.Errorf("ScanPoint(0) = %+v", got)
	}
	if got := ScanPoint(c, e, math.Pi/2); got != (Point{X: 120, Y: 97}) {
		t.Errorf("ScanPoint(pi/2) = %+v", got)
	}
	if got := ScanPoint(c, e, math.Pi); got != (Point{X: 97, Y: 80}) {
		t.Errorf("ScanPoint(pi) = %+v", got)
	}
}

func TestPointClamp(t *testing.T) {
	tests := []struct {
		in, want Point
	}{
		{Point{X: -3, Y: 300}, Point{X: 0, Y: 255}},
		{Point{X: 17, Y: 255}, Point{X: 17, Y: 255}},
		{Point{X: 1000, Y: -1}, Point{X: 255, Y: 0}},
	}
	for _, tc := range tests {
		if got := tc.in.Clamp(0, 255); got != tc.want {
			t.Errorf("Clamp(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
