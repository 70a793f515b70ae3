package format_test

// Notes:
// - Negative values are not tested: these functions format real durations,
//   which are never negative.

import (
	"testing"
	"time"

	"github.com/alnah/corpusvad/internal/format"
)

// ---------------------------------------------------------------------------
// TestDuration - Formats duration as HH:MM:SS or MM:SS
// ---------------------------------------------------------------------------

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input time.Duration
		want  string
	}{
		{name: "zero", input: 0, want: "00:00"},
		{name: "one second", input: time.Second, want: "00:01"},
		{name: "boundary: 59 seconds", input: 59 * time.Second, want: "00:59"},
		{name: "boundary: exactly 1 minute", input: time.Minute, want: "01:00"},
		{name: "mixed minutes and seconds", input: 5*time.Minute + 30*time.Second, want: "05:30"},
		{name: "boundary: exactly 1 hour", input: time.Hour, want: "01:00:00"},
		{name: "full: 2 hours 15 minutes 45 seconds", input: 2*time.Hour + 15*time.Minute + 45*time.Second, want: "02:15:45"},
		{name: "large realistic: 24 hours", input: 24 * time.Hour, want: "24:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := format.Duration(tt.input)
			if got != tt.want {
				t.Errorf("Duration(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestSpelled - Long form used in corpus reports
// ---------------------------------------------------------------------------

func TestSpelled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input float64
		want  string
	}{
		{name: "zero", input: 0, want: "0 hours, 0 minutes, 0 seconds"},
		{name: "fraction truncated", input: 59.99, want: "0 hours, 0 minutes, 59 seconds"},
		{name: "thirty seconds", input: 30, want: "0 hours, 0 minutes, 30 seconds"},
		{name: "mixed", input: 3725.4, want: "1 hours, 2 minutes, 5 seconds"},
		{name: "more than a day stays in hours", input: 90000, want: "25 hours, 0 minutes, 0 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := format.Spelled(tt.input); got != tt.want {
				t.Errorf("Spelled(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSeconds(t *testing.T) {
	t.Parallel()

	if got := format.Seconds(1.5); got != 1500*time.Millisecond {
		t.Errorf("Seconds(1.5) = %v", got)
	}
}
