package target

import (
	"math"
	"testing"

	"github.com/banshee-data/aimtrack/internal/geometry"
)

var frame = geometry.Frame{Width: 240, Height: 160}

// hollow builds a bordered rectangle candidate with the given border width.
func hollow(x, y, w, h, border int) Candidate {
	inner := (w - 2*border) * (h - 2*border)
	if inner < 0 {
		inner = 0
	}
	return Candidate{
		Rect:      geometry.Rect{X: x, Y: y, W: w, H: h},
		Pixels:    w*h - inner,
		Perimeter: float64(2*(w+h) + 2*(w+h-4*border)),
	}
}

func TestCheck(t *testing.T) {
	v := NewValidator(frame, DefaultThresholds())

	disc := Candidate{
		Rect:      geometry.Rect{X: 50, Y: 50, W: 60, H: 60},
		Pixels:    2827, // pi * 30^2
		Perimeter: 2 * math.Pi * 30,
	}

	tests := []struct {
		name string
		c    Candidate
		want Rejection
	}{
		{name: "bordered target", c: hollow(70, 40, 100, 80, 5), want: Accepted},
		{name: "zero width", c: Candidate{Rect: geometry.Rect{X: 10, Y: 10, W: 0, H: 40}, Pixels: 10, Perimeter: 80}, want: RejectDegenerate},
		{name: "zero height", c: Candidate{Rect: geometry.Rect{X: 10, Y: 10, W: 40, H: 0}, Pixels: 10, Perimeter: 80}, want: RejectDegenerate},
		{name: "touches left", c: hollow(0, 40, 100, 80, 5), want: RejectEdge},
		{name: "touches top", c: hollow(70, 0, 100, 80, 5), want: RejectEdge},
		{name: "touches right", c: hollow(140, 40, 100, 80, 5), want: RejectEdge},
		{name: "touches bottom", c: hollow(70, 80, 100, 80, 5), want: RejectEdge},
		{
			name: "dense near full frame",
			c:    Candidate{Rect: geometry.Rect{X: 1, Y: 1, W: 230, H: 150}, Pixels: 31000, Perimeter: 2000},
			want: RejectFlood,
		},
		{name: "sparse large frame passes flood check", c: hollow(1, 1, 230, 150, 10), want: Accepted},
		{name: "aspect exactly 4", c: hollow(10, 10, 120, 30, 3), want: RejectAspect},
		{name: "too small", c: hollow(10, 10, 30, 30, 3), want: RejectArea},
		{name: "area at minimum", c: hollow(10, 10, 40, 25, 3), want: RejectArea},
		{name: "nearly whole frame", c: hollow(1, 1, 237, 157, 3), want: RejectArea},
		{name: "compact disc", c: disc, want: RejectShape},
		{name: "no pixels", c: Candidate{Rect: geometry.Rect{X: 10, Y: 10, W: 50, H: 50}, Perimeter: 200}, want: RejectShape},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.Check(tc.c); got != tc.want {
				t.Errorf("Check() = %v, want %v (sf=%.2f density=%.2f)", got, tc.want, tc.c.ShapeFactor(), tc.c.Density())
			}
		})
	}
}

func TestCheck_EdgeTouchingAlwaysRejected(t *testing.T) {
	v := NewValidator(frame, DefaultThresholds())
	for w := 10; w <= 200; w += 19 {
		for h := 10; h <= 140; h += 13 {
			for _, c := range []Candidate{
				hollow(0, 5, w, h, 2),
				hollow(5, 0, w, h, 2),
				hollow(frame.Width-w, 5, w, h, 2),
				hollow(5, frame.Height-h, w, h, 2),
			} {
				if got := v.Check(c); got != RejectEdge {
					t.Fatalf("Check(%+v) = %v, want edge", c.Rect, got)
				}
			}
		}
	}
}

func TestCheck_AspectRatioAtOrAboveLimitRejected(t *testing.T) {
	v := NewValidator(frame, DefaultThresholds())
	for h := 10; h <= 38; h++ {
		for _, long := range []int{4 * h, 4*h + 1, 5 * h} {
			if long+10 >= frame.Height && long+10 >= frame.Width {
				continue
			}
			if long+10 < frame.Width {
				if got := v.Check(hollow(5, 5, long, h, 2)); got != RejectAspect {
					t.Fatalf("%dx%d: Check() = %v, want aspect", long, h, got)
				}
			}
			if long+10 < frame.Height {
				if got := v.Check(hollow(5, 5, h, long, 2)); got != RejectAspect {
					t.Fatalf("%dx%d: Check() = %v, want aspect", h, long, got)
				}
			}
		}
	}
}

func TestSelect(t *testing.T) {
	v := NewValidator(frame, DefaultThresholds())

	small := hollow(10, 10, 50, 40, 4)
	large := hollow(70, 40, 100, 80, 5)
	mid := hollow(20, 30, 80, 60, 4)
	edge := hollow(0, 0, 200, 150, 4)

	got, ok := v.Select([]Candidate{small, large, mid, edge})
	if !ok {
		t.Fatal("Select() found nothing")
	}
	if got != large.Rect {
		t.Errorf("Select() = %+v, want %+v", got, large.Rect)
	}

	if _, ok := v.Select(nil); ok {
		t.Error("Select(nil) should find nothing")
	}
	if _, ok := v.Select([]Candidate{edge}); ok {
		t.Error("Select() accepted an edge-touching candidate")
	}
}

func TestSelect_TieKeepsFirst(t *testing.T) {
	v := NewValidator(frame, DefaultThresholds())
	a := hollow(10, 10, 60, 50, 4)
	b := hollow(100, 60, 50, 60, 4)
	got, ok := v.Select([]Candidate{a, b})
	if !ok || got != a.Rect {
		t.Errorf("Select() = %+v,%v want first candidate %+v", got, ok, a.Rect)
	}
}

func TestCounts(t *testing.T) {
	v := NewValidator(frame, DefaultThresholds())
	v.Select([]Candidate{hollow(70, 40, 100, 80, 5), hollow(0, 40, 100, 80, 5), hollow(0, 0, 10, 10, 1)})
	counts := v.Counts()
	if counts["accepted"] != 1 || counts["edge"] != 2 {
		t.Errorf("Counts() = %v", counts)
	}
}

func TestCandidateMetrics_ZeroDenominators(t *testing.T) {
	c := Candidate{}
	if d := c.Density(); d != 0 {
		t.Errorf("Density() = %v, want 0", d)
	}
	if a := c.AspectRatio(); !math.IsInf(a, 1) {
		t.Errorf("AspectRatio() = %v, want +Inf", a)
	}
	if s := c.ShapeFactor(); s != 0 {
		t.Errorf("ShapeFactor() = %v, want 0", s)
	}
}
