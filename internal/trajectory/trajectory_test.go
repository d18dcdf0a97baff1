package trajectory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/aimtrack/internal/geometry"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	center = geometry.Point{X: 120, Y: 80}
	circle = geometry.EllipseParams{SemiMajor: 23, SemiMinor: 23}
)

func TestShortestArc(t *testing.T) {
	tests := []struct {
		name     string
		from, to float64
		want     float64
	}{
		{name: "forward small", from: 0.5, to: 0.7, want: 0.2},
		{name: "backward small", from: 0.7, to: 0.5, want: -0.2},
		{name: "across zero backwards", from: 0.1, to: 2*math.Pi - 0.1, want: -0.2},
		{name: "across zero forwards", from: 2*math.Pi - 0.1, to: 0.1, want: 0.2},
		{name: "half turn", from: 0, to: math.Pi, want: math.Pi},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ShortestArc(tc.from, tc.to)
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.LessOrEqual(t, math.Abs(got), math.Pi)
		})
	}
}

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, 0.5, NormalizeAngle(0.5), 1e-12)
	assert.InDelta(t, 2*math.Pi-0.5, NormalizeAngle(-0.5), 1e-12)
	assert.InDelta(t, 0.5, NormalizeAngle(2*math.Pi+0.5), 1e-12)
	assert.Equal(t, 0.0, NormalizeAngle(2*math.Pi))
	for _, a := range []float64{-100, -7, -1e-18, 0, 3, 6.5, 1000} {
		n := NormalizeAngle(a)
		assert.GreaterOrEqual(t, n, 0.0)
		assert.Less(t, n, 2*math.Pi)
	}
}

func TestStep_TakesShortPathAcrossZero(t *testing.T) {
	g := New(DefaultConfig())
	ideal := 2*math.Pi - 0.1

	phase := g.Step(0.1, ideal)
	assert.InDelta(t, 0.1-0.3*0.2, phase, 1e-12, "phase should decrease toward zero")

	for i := 0; i < 50; i++ {
		phase = g.Step(phase, ideal)
		onShortArc := phase <= 0.1+1e-9 || phase >= ideal-1e-9
		require.Truef(t, onShortArc, "step %d left the short arc: phase=%v", i, phase)
	}
	assert.InDelta(t, 0, ShortestArc(phase, ideal), 1e-6)
}

func TestIdealAngle(t *testing.T) {
	g := New(DefaultConfig())
	assert.InDelta(t, 0, g.IdealAngle(t0, t0), 1e-12)
	assert.InDelta(t, math.Pi/2, g.IdealAngle(t0, t0.Add(3750*time.Millisecond)), 1e-12)
	assert.InDelta(t, math.Pi, g.IdealAngle(t0, t0.Add(22500*time.Millisecond)), 1e-12, "wraps each period")
	assert.Equal(t, 0.0, g.IdealAngle(t0, t0.Add(-time.Second)), "negative elapsed clamps")
}

func TestAdvance_FirstPointStartsAtZeroPhase(t *testing.T) {
	g := New(DefaultConfig())
	require.False(t, g.State().Started())

	p := g.Advance(t0, center, circle)
	assert.Equal(t, geometry.Point{X: 143, Y: 80}, p)

	st := g.State()
	assert.True(t, st.Started())
	assert.Equal(t, t0, st.Start)
	assert.Equal(t, 0.0, st.Phase)
	require.NotNil(t, st.Last)
	assert.Equal(t, p, *st.Last)
}

func TestAdvance_TracksIdealRotationWithLag(t *testing.T) {
	g := New(DefaultConfig())
	now := t0
	for i := 0; i < 75; i++ {
		g.Advance(now, center, circle)
		now = now.Add(50 * time.Millisecond)
	}
	// last advance happened at t0 + 74*50ms = 3.7s
	ideal := g.IdealAngle(t0, t0.Add(3700*time.Millisecond))
	phase := g.State().Phase

	lag := ShortestArc(phase, ideal)
	assert.Greater(t, lag, 0.0, "filtered phase trails the ideal")
	assert.Less(t, lag, 0.06)
}

func TestAdvance_ContinuousAcrossRevolution(t *testing.T) {
	g := New(DefaultConfig())
	now := t0
	prev := 0.0
	for i := 0; i < 400; i++ { // 20 s, more than one revolution
		g.Advance(now, center, circle)
		phase := g.State().Phase
		if i > 0 {
			step := ShortestArc(prev, phase)
			require.GreaterOrEqualf(t, step, 0.0, "phase went backwards at step %d", i)
			require.Lessf(t, step, 0.1, "phase jumped at step %d", i)
		}
		prev = phase
		now = now.Add(50 * time.Millisecond)
	}
}

func TestAdvance_SmoothsTowardPreviousPoint(t *testing.T) {
	g := New(DefaultConfig())
	g.Advance(t0, center, circle)

	// the target jumps 40 px right; output moves only 30% of the way
	moved := geometry.Point{X: 160, Y: 80}
	p := g.Advance(t0.Add(50*time.Millisecond), moved, circle)
	assert.Equal(t, 155, p.X)
	assert.Equal(t, 80, p.Y)
}

func TestAdvance_StaysOnEllipseWithoutSmoothing(t *testing.T) {
	g := New(Config{Period: 4 * time.Second, PhaseGain: 1, Smoothing: 0})
	e := geometry.EllipseParams{SemiMajor: 30, SemiMinor: 10}
	p := g.Advance(t0, center, e)
	assert.Equal(t, geometry.Point{X: 150, Y: 80}, p)

	p = g.Advance(t0.Add(time.Second), center, e)
	assert.Equal(t, geometry.Point{X: 120, Y: 90}, p)
}

func TestReset(t *testing.T) {
	g := New(DefaultConfig())
	g.Advance(t0, center, circle)
	g.Advance(t0.Add(time.Second), center, circle)
	require.NotZero(t, g.State().Phase)

	g.Reset()
	st := g.State()
	assert.False(t, st.Started())
	assert.Nil(t, st.Last)
	assert.Equal(t, 0.0, st.Phase)

	// a fresh revolution begins at zero phase from the new start time
	later := t0.Add(time.Minute)
	p := g.Advance(later, center, circle)
	assert.Equal(t, geometry.Point{X: 143, Y: 80}, p)
	assert.Equal(t, later, g.State().Start)
}

func TestState_ReturnsCopy(t *testing.T) {
	g := New(DefaultConfig())
	g.Advance(t0, center, circle)
	st := g.State()
	st.Last.X = -1
	assert.Equal(t, 143, g.State().Last.X)
}

func TestNew_InvalidConfigFallsBack(t *testing.T) {
	g := New(Config{Period: -1, PhaseGain: 3, Smoothing: 1})
	assert.Equal(t, DefaultConfig(), g.Config())
}
