package player

import "time"

// Clock returns the current time.
type Clock func() time.Time

// Timing derives the playback position of one song from wall-clock time,
// excluding time spent paused. It is not safe for concurrent use; the owning
// guild's mutex guards it.
type Timing struct {
	now      Clock
	start    time.Time
	paused   time.Duration
	pausedAt time.Time
	duration time.Duration
}

// NewTiming starts timing a song of the given duration. A zero duration means
// the length is unknown and the position is not capped.
func NewTiming(now Clock, duration time.Duration) *Timing {
	if now == nil {
		now = time.Now
	}
	return &Timing{now: now, start: now(), duration: duration}
}

// Pause freezes the position. It returns false if already paused.
func (t *Timing) Pause() bool {
	if !t.pausedAt.IsZero() {
		return false
	}
	t.pausedAt = t.now()
	return true
}

// Resume continues from the frozen position. It returns false if not paused.
func (t *Timing) Resume() bool {
	if t.pausedAt.IsZero() {
		return false
	}
	t.paused += t.now().Sub(t.pausedAt)
	t.pausedAt = time.Time{}
	return true
}

func (t *Timing) Paused() bool {
	return !t.pausedAt.IsZero()
}

func (t *Timing) Duration() time.Duration {
	return t.duration
}

// Position is clamped to [0, duration].
func (t *Timing) Position() time.Duration {
	end := t.now()
	if !t.pausedAt.IsZero() {
		end = t.pausedAt
	}
	pos := end.Sub(t.start) - t.paused
	if pos < 0 {
		return 0
	}
	if t.duration > 0 && pos > t.duration {
		return t.duration
	}
	return pos
}
