// Package audio reads and writes PCM WAV files for the extraction pipeline.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DetectorSampleRate is the sample rate every waveform is converted to
// before it reaches a speech detector.
const DetectorSampleRate = 16000

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

// Info describes a WAV file from its header.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int
}

// Duration returns the file length in seconds.
func (i Info) Duration() float64 {
	if i.SampleRate == 0 {
		return 0
	}
	return float64(i.Frames) / float64(i.SampleRate)
}

// Waveform is mono float samples in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the waveform length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Probe reads the WAV header of path without decoding the samples.
func Probe(path string) (Info, error) {
	f, d, err := openWAV(path)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()

	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%s: %w: %v", path, ErrInvalidWAV, err)
	}

	info := Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	frameSize := info.Channels * info.BitDepth / 8
	if frameSize > 0 {
		info.Frames = d.PCMSize / frameSize
	}
	return info, nil
}

// Decode loads path as a mono waveform at sampleRate.
// Stereo input is downmixed by averaging; other rates are resampled.
func Decode(path string, sampleRate int) (Waveform, error) {
	buf, err := readPCM(path)
	if err != nil {
		return Waveform{}, err
	}

	samples := toMonoFloat(buf)
	rate := buf.Format.SampleRate
	if rate != sampleRate {
		samples = Resample(samples, rate, sampleRate)
	}

	return Waveform{Samples: samples, SampleRate: sampleRate}, nil
}

// openWAV opens path and returns a decoder positioned at the start of the
// file. Chunk sizes are checked against the file size first: the decoder
// allocates whatever a header claims.
func openWAV(path string) (*os.File, *wav.Decoder, error) {
	f, err := os.Open(path) // #nosec G304 -- corpus path chosen by the operator
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	fail := func(err error) (*os.File, *wav.Decoder, error) {
		_ = f.Close()
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat %s: %w", path, err))
	}
	if err := checkChunks(f, info.Size()); err != nil {
		return fail(fmt.Errorf("%s: %w", path, err))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("seek %s: %w", path, err))
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return fail(fmt.Errorf("%s: %w", path, ErrInvalidWAV))
	}
	return f, d, nil
}

// checkChunks walks the RIFF chunk headers up to the data chunk and
// rejects any chunk that claims more bytes than the file holds.
func checkChunks(r io.ReaderAt, size int64) error {
	var hdr [12]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("%w: short header", ErrInvalidWAV)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return fmt.Errorf("%w: not a RIFF/WAVE file", ErrInvalidWAV)
	}

	var sawFmt bool
	off := int64(12)
	for {
		var ch [8]byte
		if _, err := r.ReadAt(ch[:], off); err != nil {
			return fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
		}
		id := string(ch[0:4])
		n := int64(binary.LittleEndian.Uint32(ch[4:8]))
		body := off + 8
		if n > size-body {
			return fmt.Errorf("%w: %q chunk claims %d bytes, %d left", ErrInvalidWAV, id, n, size-body)
		}

		switch id {
		case "fmt ":
			if n < 16 {
				return fmt.Errorf("%w: fmt chunk of %d bytes", ErrInvalidWAV, n)
			}
			sawFmt = true
		case "data":
			if !sawFmt {
				return fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			return nil
		}
		// Chunks are padded to an even size.
		off = body + n + n%2
	}
}

// readPCM decodes the full integer PCM payload of path.
func readPCM(path string) (*goaudio.IntBuffer, error) {
	f, d, err := openWAV(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%s: format tag %d: %w", path, d.WavAudioFormat, ErrUnsupportedEncoding)
	}
	switch d.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%s: %d-bit samples: %w", path, d.BitDepth, ErrUnsupportedEncoding)
	}
	if d.NumChans < 1 || d.NumChans > 2 {
		return nil, fmt.Errorf("%s: %d channels: %w", path, d.NumChans, ErrUnsupportedChannels)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: read pcm: %w", path, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyAudio)
	}
	if buf.SourceBitDepth == 0 {
		buf.SourceBitDepth = int(d.BitDepth)
	}
	return buf, nil
}

// toMonoFloat normalises integer PCM to [-1, 1] and averages channels.
func toMonoFloat(buf *goaudio.IntBuffer) []float32 {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	bitDepth := buf.SourceBitDepth
	scale := float64(int64(1) << (bitDepth - 1))
	offset := 0
	if bitDepth == 8 {
		// 8-bit WAV is unsigned.
		offset = 128
	}

	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c] - offset)
		}
		out[i] = float32(sum / float64(channels) / scale)
	}
	return out
}

// Resample converts samples from one rate to another by linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	if n == 0 {
		return []float32{}
	}

	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}
