// Package countdown derives "seconds remaining" from an absolute start
// timestamp and a fixed duration. Every observer recomputes from the stored
// start on each tick instead of decrementing a local counter, so all clients
// converge on the same value and drift cannot accumulate.
package countdown

import (
	"math"
	"time"
)

// Remaining returns the whole seconds left of a countdown that began at
// start and runs for duration, evaluated at now. The result is clamped to
// [0, duration]: a skewed clock that places now before start yields the full
// duration, and anything at or past the deadline yields 0.
func Remaining(now, start time.Time, duration time.Duration) int {
	if duration <= 0 {
		return 0
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		return int(duration / time.Second)
	}
	left := duration - elapsed
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// RemainingFromString is Remaining for a stored RFC3339 start value. An
// unparseable start fails open to 0 so a corrupt row can never wedge a room
// in countdown forever.
func RemainingFromString(now time.Time, start string, duration time.Duration) int {
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return 0
	}
	return Remaining(now, t, duration)
}

// Deadline returns the instant the countdown expires.
func Deadline(start time.Time, duration time.Duration) time.Time {
	return start.Add(duration)
}

// Expired reports whether the countdown has reached zero at now.
func Expired(now, start time.Time, duration time.Duration) bool {
	return !now.Before(Deadline(start, duration))
}
