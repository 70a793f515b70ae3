// Package segment holds the speech segment model and the greedy merge pass
// applied to detector output.
package segment

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Default extraction knobs.
const (
	// DefaultMergeThreshold is the largest gap, in seconds, still bridged by Merge.
	DefaultMergeThreshold = 0.25

	// DefaultMinDuration is the shortest merged segment, in seconds, that survives Filter.
	DefaultMinDuration = 0.5
)

// Segment is a speech interval in seconds.
type Segment struct {
	Start    float64
	End      float64
	Duration float64
}

// New returns a segment with Duration derived from start and end.
func New(start, end float64) Segment {
	return Segment{Start: start, End: end, Duration: end - start}
}

// FromSamples converts a detector interval in sample indices to seconds.
func FromSamples(start, end, sampleRate int) Segment {
	rate := float64(sampleRate)
	return Segment{
		Start:    float64(start) / rate,
		End:      float64(end) / rate,
		Duration: float64(end-start) / rate,
	}
}

// Merge joins adjacent segments whose gap is smaller than threshold.
//
// Input must be sorted by Start and non-overlapping, which is what the
// detector guarantees. The pass is greedy and never revisits a segment.
// The input slice is not modified.
func Merge(segments []Segment, threshold float64) []Segment {
	if len(segments) == 0 {
		return []Segment{}
	}

	merged := make([]Segment, 0, len(segments))
	current := segments[0]

	for _, next := range segments[1:] {
		if next.Start-current.End < threshold {
			current.End = next.End
			current.Duration = current.End - current.Start
			continue
		}
		merged = append(merged, current)
		current = next
	}

	return append(merged, current)
}

// Filter keeps segments whose duration is at least minDuration.
func Filter(segments []Segment, minDuration float64) []Segment {
	kept := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.Duration >= minDuration {
			kept = append(kept, s)
		}
	}
	return kept
}

// Stem returns filename without its directory and extension.
func Stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ID derives the segment identifier "<stem>_<start:.2f>_<end:.2f>".
func ID(filename string, s Segment) string {
	return fmt.Sprintf("%s_%.2f_%.2f", Stem(filename), s.Start, s.End)
}
