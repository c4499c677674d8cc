package player

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTimingAdvancesWhilePlaying(t *testing.T) {
	clk := newFakeClock()
	tm := NewTiming(clk.Now, time.Minute)

	if got := tm.Position(); got != 0 {
		t.Fatalf("initial position = %v", got)
	}
	last := time.Duration(0)
	for i := 0; i < 5; i++ {
		clk.Advance(1500 * time.Millisecond)
		got := tm.Position()
		if got < last {
			t.Fatalf("position went backwards: %v after %v", got, last)
		}
		last = got
	}
	if last != 7500*time.Millisecond {
		t.Errorf("position = %v, want 7.5s", last)
	}
}

func TestTimingPauseFreezesPosition(t *testing.T) {
	clk := newFakeClock()
	tm := NewTiming(clk.Now, time.Minute)

	clk.Advance(10 * time.Second)
	if !tm.Pause() {
		t.Fatal("Pause returned false")
	}
	before := tm.Position()

	clk.Advance(30 * time.Second)
	if got := tm.Position(); got != before {
		t.Errorf("paused position moved: %v -> %v", before, got)
	}
	if tm.Pause() {
		t.Error("second Pause should return false")
	}
	if !tm.Paused() {
		t.Error("Paused() = false")
	}

	if !tm.Resume() {
		t.Fatal("Resume returned false")
	}
	if got := tm.Position(); got != before {
		t.Errorf("position right after resume = %v, want %v", got, before)
	}
	if tm.Resume() {
		t.Error("second Resume should return false")
	}

	clk.Advance(5 * time.Second)
	if got := tm.Position(); got != 15*time.Second {
		t.Errorf("position = %v, want 15s", got)
	}
}

func TestTimingClampsToDuration(t *testing.T) {
	clk := newFakeClock()
	tm := NewTiming(clk.Now, 10*time.Second)

	clk.Advance(time.Hour)
	if got := tm.Position(); got != 10*time.Second {
		t.Errorf("position = %v, want 10s", got)
	}
}

func TestTimingUnknownDurationIsUncapped(t *testing.T) {
	clk := newFakeClock()
	tm := NewTiming(clk.Now, 0)

	clk.Advance(90 * time.Second)
	if got := tm.Position(); got != 90*time.Second {
		t.Errorf("position = %v, want 90s", got)
	}
}

func TestTimingRepeatedPauses(t *testing.T) {
	clk := newFakeClock()
	tm := NewTiming(clk.Now, time.Minute)

	for i := 0; i < 3; i++ {
		clk.Advance(2 * time.Second)
		tm.Pause()
		clk.Advance(7 * time.Second)
		tm.Resume()
	}
	if got := tm.Position(); got != 6*time.Second {
		t.Errorf("position = %v, want 6s", got)
	}
}
