package vad

import "math"

// Energy detector defaults, expressed at SampleRate.
const (
	defaultFrameSize      = 512 // 32 ms
	defaultThresholdDB    = -35.0
	defaultMinSpeechMs    = 250
	defaultMinSilenceMs   = 100
	defaultSpeechPadMs    = 30
	silenceFloorAmplitude = 1e-10
)

// EnergyConfig tunes EnergyDetector. Zero values select defaults.
type EnergyConfig struct {
	FrameSize    int
	ThresholdDB  float64
	MinSpeechMs  int
	MinSilenceMs int
	SpeechPadMs  int
}

func (c *EnergyConfig) normalize() {
	if c.FrameSize <= 0 {
		c.FrameSize = defaultFrameSize
	}
	if c.ThresholdDB == 0 {
		c.ThresholdDB = defaultThresholdDB
	}
	if c.MinSpeechMs <= 0 {
		c.MinSpeechMs = defaultMinSpeechMs
	}
	if c.MinSilenceMs <= 0 {
		c.MinSilenceMs = defaultMinSilenceMs
	}
	if c.SpeechPadMs < 0 {
		c.SpeechPadMs = 0
	} else if c.SpeechPadMs == 0 {
		c.SpeechPadMs = defaultSpeechPadMs
	}
}

// EnergyDetector marks frames whose RMS level exceeds a dBFS threshold.
// It needs no model and serves as the default detector.
type EnergyDetector struct {
	cfg EnergyConfig
}

// Compile-time interface check.
var _ Detector = (*EnergyDetector)(nil)

// NewEnergyDetector creates an EnergyDetector.
func NewEnergyDetector(cfg EnergyConfig) *EnergyDetector {
	cfg.normalize()
	return &EnergyDetector{cfg: cfg}
}

// Detect returns speech intervals in sample indices.
func (d *EnergyDetector) Detect(samples []float32) ([]Timestamp, error) {
	frame := d.cfg.FrameSize
	msToSamples := func(ms int) int { return ms * SampleRate / 1000 }
	minSpeech := msToSamples(d.cfg.MinSpeechMs)
	minSilence := msToSamples(d.cfg.MinSilenceMs)
	pad := msToSamples(d.cfg.SpeechPadMs)

	var raw []Timestamp
	start := -1
	silentSince := -1

	for off := 0; off < len(samples); off += frame {
		end := min(off+frame, len(samples))
		voiced := levelDB(samples[off:end]) >= d.cfg.ThresholdDB

		switch {
		case voiced && start < 0:
			start = off
			silentSince = -1
		case voiced:
			silentSince = -1
		case start >= 0 && silentSince < 0:
			silentSince = off
		}

		if start >= 0 && silentSince >= 0 && end-silentSince >= minSilence {
			raw = append(raw, Timestamp{Start: start, End: silentSince})
			start, silentSince = -1, -1
		}
	}
	if start >= 0 {
		stop := len(samples)
		if silentSince >= 0 {
			stop = silentSince
		}
		raw = append(raw, Timestamp{Start: start, End: stop})
	}

	out := make([]Timestamp, 0, len(raw))
	for _, ts := range raw {
		if ts.End-ts.Start < minSpeech {
			continue
		}
		out = append(out, Timestamp{
			Start: max(0, ts.Start-pad),
			End:   min(len(samples), ts.End+pad),
		})
	}
	// Padding can make neighbours touch.
	return Normalize(out), nil
}

// levelDB returns the RMS level of frame in dBFS.
func levelDB(frame []float32) float64 {
	if len(frame) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return 20 * math.Log10(math.Max(rms, silenceFloorAmplitude))
}
