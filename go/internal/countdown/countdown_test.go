package countdown

import (
	"testing"
	"time"
)

func TestRemainingFullWindow(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want int
	}{
		{"at start", start, 10},
		{"after 1s", start.Add(1 * time.Second), 9},
		{"mid tick rounds up", start.Add(2500 * time.Millisecond), 8},
		{"just before zero", start.Add(9900 * time.Millisecond), 1},
		{"at deadline", start.Add(10 * time.Second), 0},
		{"past deadline", start.Add(1 * time.Minute), 0},
		{"clock skew before start", start.Add(-30 * time.Second), 10},
	}

	for _, c := range cases {
		if got := Remaining(c.now, start, 10*time.Second); got != c.want {
			t.Errorf("%s: Remaining = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestRemainingDeterministic(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(3700 * time.Millisecond)

	a := Remaining(now, start, 10*time.Second)
	b := Remaining(now, start, 10*time.Second)
	if a != b {
		t.Fatalf("two evaluations at the same now disagree: %d vs %d", a, b)
	}
}

func TestRemainingMonotonicNonIncreasing(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	prev := Remaining(start, start, 10*time.Second)
	for ms := 100; ms <= 12000; ms += 100 {
		now := start.Add(time.Duration(ms) * time.Millisecond)
		got := Remaining(now, start, 10*time.Second)
		if got > prev {
			t.Fatalf("remaining increased from %d to %d at +%dms", prev, got, ms)
		}
		if got < 0 || got > 10 {
			t.Fatalf("remaining %d out of [0,10] at +%dms", got, ms)
		}
		prev = got
	}
}

func TestRemainingFromString(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(4 * time.Second)

	if got := RemainingFromString(now, start.Format(time.RFC3339), 10*time.Second); got != 6 {
		t.Errorf("valid start: got %d, want 6", got)
	}
	// Unparseable start fails open to 0 so the UI is never blocked.
	if got := RemainingFromString(now, "not-a-timestamp", 10*time.Second); got != 0 {
		t.Errorf("garbage start: got %d, want 0", got)
	}
}

func TestRemainingZeroDuration(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := Remaining(start, start, 0); got != 0 {
		t.Errorf("zero duration: got %d, want 0", got)
	}
}

func TestExpired(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if Expired(start.Add(5*time.Second), start, 10*time.Second) {
		t.Error("expired at 5s of 10s")
	}
	if !Expired(start.Add(10*time.Second), start, 10*time.Second) {
		t.Error("not expired at deadline")
	}
	if !Deadline(start, 10*time.Second).Equal(start.Add(10 * time.Second)) {
		t.Error("deadline mismatch")
	}
}
