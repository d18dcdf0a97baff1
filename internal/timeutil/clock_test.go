package timeutil

import (
	"context"
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_After(t *testing.T) {
	clock := RealClock{}
	select {
	case <-clock.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("After did not fire")
	}
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(fixedTime)

	if now := clock.Now(); !now.Equal(fixedTime) {
		t.Errorf("got %v, want %v", now, fixedTime)
	}
}

func TestMockClock_Set(t *testing.T) {
	clock := NewMockClock(time.Time{})
	newTime := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.Set(newTime)

	if !clock.Now().Equal(newTime) {
		t.Errorf("got %v, want %v", clock.Now(), newTime)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(30 * time.Millisecond)

	if got := clock.Since(start); got != 30*time.Millisecond {
		t.Errorf("Since() = %v, want 30ms", got)
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Sleep(50 * time.Millisecond)
	clock.Sleep(500 * time.Millisecond)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("got %d sleeps, want 2", len(sleeps))
	}
	if sleeps[0] != 50*time.Millisecond || sleeps[1] != 500*time.Millisecond {
		t.Errorf("sleeps = %v", sleeps)
	}
	if got := clock.Since(start); got != 550*time.Millisecond {
		t.Errorf("clock advanced %v, want 550ms", got)
	}
}

func TestMockClock_After(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	select {
	case got := <-clock.After(time.Second):
		if !got.Equal(start.Add(time.Second)) {
			t.Errorf("After delivered %v, want %v", got, start.Add(time.Second))
		}
	default:
		t.Error("After channel should be ready immediately")
	}
}

func TestSleepContext(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	if err := SleepContext(context.Background(), clock, time.Second); err != nil {
		t.Errorf("SleepContext() = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, RealClock{}, time.Hour); err != context.Canceled {
		t.Errorf("SleepContext() on cancelled ctx = %v, want context.Canceled", err)
	}
	if err := SleepContext(ctx, clock, 0); err != context.Canceled {
		t.Errorf("SleepContext(0) on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestSleepContext_CancelledBeforeSleep(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the mock's After channel is always ready, so a select alone would pick
	// at random
	for i := 0; i < 50; i++ {
		if err := SleepContext(ctx, clock, time.Second); err != context.Canceled {
			t.Fatalf("run %d: SleepContext() = %v, want context.Canceled", i, err)
		}
	}
	if !clock.Now().Equal(start) {
		t.Errorf("clock advanced to %v", clock.Now())
	}
	if n := len(clock.Sleeps()); n != 0 {
		t.Errorf("recorded %d sleeps, want 0", n)
	}
}

func TestElapsed(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		since time.Time
		now   time.Time
		want  time.Duration
	}{
		{name: "forward", since: base, now: base.Add(40 * time.Millisecond), want: 40 * time.Millisecond},
		{name: "backwards clamps to zero", since: base.Add(time.Second), now: base, want: 0},
		{name: "never", since: time.Time{}, now: base, want: time.Duration(1<<63 - 1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Elapsed(tc.since, tc.now); got != tc.want {
				t.Errorf("Elapsed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestElapsed_MonotonicReading(t *testing.T) {
	clock := RealClock{}
	a := clock.Now()
	b := clock.Now()
	if Elapsed(a, b) < 0 {
		t.Error("monotonic elapsed must not be negative")
	}
}
