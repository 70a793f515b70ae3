//go:build silero

package vad

import (
	"fmt"
	"io"

	"github.com/streamer45/silero-vad-go/speech"
)

// Silero defaults, matching the reference get_speech_timestamps settings.
const (
	sileroThreshold    = 0.5
	sileroMinSilenceMs = 100
	sileroSpeechPadMs  = 30
)

// SileroDetector wraps the Silero ONNX model.
// It requires cgo and the onnxruntime shared library.
type SileroDetector struct {
	sd *speech.Detector
}

// Compile-time interface checks.
var (
	_ Detector  = (*SileroDetector)(nil)
	_ io.Closer = (*SileroDetector)(nil)
)

func newSilero(opts Options) (Detector, io.Closer, error) {
	if opts.ModelPath == "" {
		return nil, nil, ErrModelPath
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = sileroThreshold
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            opts.ModelPath,
		SampleRate:           SampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: sileroMinSilenceMs,
		SpeechPadMs:          sileroSpeechPadMs,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load silero model: %w", err)
	}
	d := &SileroDetector{sd: sd}
	return d, d, nil
}

// Detect runs the model over the whole waveform.
// The model state is reset afterwards so each file is independent.
func (d *SileroDetector) Detect(samples []float32) ([]Timestamp, error) {
	segments, err := d.sd.Detect(samples)
	if resetErr := d.sd.Reset(); err == nil && resetErr != nil {
		err = fmt.Errorf("reset silero state: %w", resetErr)
	}
	if err != nil {
		return nil, err
	}

	out := make([]Timestamp, 0, len(segments))
	for _, s := range segments {
		end := s.SpeechEndAt
		if end == 0 {
			// Speech still open at end of input.
			end = float64(len(samples)) / SampleRate
		}
		out = append(out, Timestamp{
			Start: int(s.SpeechStartAt * SampleRate),
			End:   int(end * SampleRate),
		})
	}
	return Normalize(out), nil
}

// Close releases the ONNX session.
func (d *SileroDetector) Close() error {
	return d.sd.Destroy()
}
