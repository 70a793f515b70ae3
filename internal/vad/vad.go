// Package vad defines the speech-boundary detector boundary and its
// implementations.
//
// A Detector receives a mono waveform at SampleRate and returns ordered,
// non-overlapping speech intervals in sample indices. Implementations are
// deterministic: the same samples always yield the same intervals.
package vad

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// SampleRate is the only rate detectors accept.
const SampleRate = 16000

// Detector kinds.
const (
	KindEnergy = "energy"
	KindSilero = "silero"
)

// Devices recognised by the detector factory.
const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// Timestamp is a speech interval [Start, End) in sample indices.
type Timestamp struct {
	Start int
	End   int
}

// Detector locates speech in a waveform.
type Detector interface {
	Detect(samples []float32) ([]Timestamp, error)
}

// Options selects and configures a Detector.
type Options struct {
	Kind      string
	ModelPath string
	// Device is forwarded to implementations that can use it.
	// It never changes which intervals are returned.
	Device    string
	Threshold float32
}

// Kinds returns the detector kinds known to New, sorted.
func Kinds() []string {
	return []string{KindEnergy, KindSilero}
}

// New builds the detector selected by opts.Kind.
// The returned Closer releases model resources and must be called.
func New(opts Options) (Detector, io.Closer, error) {
	device := strings.ToLower(opts.Device)
	if device == "" {
		device = DeviceCPU
	}
	if !ValidDevice(device) {
		return nil, nil, fmt.Errorf("device %q: %w", opts.Device, ErrUnknownDevice)
	}

	switch strings.ToLower(opts.Kind) {
	case "", KindEnergy:
		return NewEnergyDetector(EnergyConfig{}), nopCloser{}, nil
	case KindSilero:
		return newSilero(opts)
	default:
		return nil, nil, fmt.Errorf("detector %q (known: %s): %w",
			opts.Kind, strings.Join(Kinds(), ", "), ErrUnknownKind)
	}
}

// ValidDevice reports whether device names a CPU or CUDA target:
// "cpu", "cuda" or "cuda:<n>". Matching is case-sensitive.
func ValidDevice(device string) bool {
	if device == DeviceCPU || device == DeviceCUDA {
		return true
	}
	return strings.HasPrefix(device, DeviceCUDA+":") && len(device) > len(DeviceCUDA)+1
}

// Normalize sorts intervals, drops empty ones and joins overlaps, so a
// detector's output satisfies the ordering contract.
func Normalize(ts []Timestamp) []Timestamp {
	out := make([]Timestamp, 0, len(ts))
	for _, t := range ts {
		if t.End > t.Start {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Timestamp) int { return a.Start - b.Start })

	merged := out[:0]
	for _, t := range out {
		if n := len(merged); n > 0 && t.Start < merged[n-1].End {
			merged[n-1].End = max(merged[n-1].End, t.End)
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
