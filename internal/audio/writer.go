package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// clipBitDepth is the sample width of exported clips.
const clipBitDepth = 16

// WritePCM16 writes mono float samples as a 16-bit PCM WAV file.
// The file is written to a temporary name and renamed on success.
func WritePCM16(path string, samples []float32, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		data[i] = int(math.Max(-32768, math.Min(32767, v)))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: clipBitDepth,
	}
	return writeIntBuffer(path, buf)
}

// writeIntBuffer encodes buf to path atomically.
func writeIntBuffer(path string, buf *goaudio.IntBuffer) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	writeErr := func() error {
		enc := wav.NewEncoder(tmp, buf.Format.SampleRate, buf.SourceBitDepth, buf.Format.NumChannels, wavFormatPCM)
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("finalize %s: %w", path, err)
		}
		return tmp.Close()
	}()
	if writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return writeErr
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ExportClip writes w[start:end] (seconds) to dir/<id>.wav.
func ExportClip(dir, id string, w Waveform, start, end float64) (string, error) {
	from := int(start * float64(w.SampleRate))
	to := int(end * float64(w.SampleRate))
	from = max(0, min(from, len(w.Samples)))
	to = max(from, min(to, len(w.Samples)))

	if err := os.MkdirAll(dir, 0750); err != nil { // #nosec G301 -- export dir chosen by the operator
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, id+".wav")
	if err := WritePCM16(path, w.Samples[from:to], w.SampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// StereoToMono writes a mono copy of a stereo WAV by averaging channels.
// The bit depth and sample rate of the input are preserved.
func StereoToMono(input, output string) error {
	buf, err := readPCM(input)
	if err != nil {
		return err
	}
	if buf.Format.NumChannels != 2 {
		return fmt.Errorf("%s: %w", input, ErrNotStereo)
	}

	frames := len(buf.Data) / 2
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		// Integer mean truncated toward zero, as the samples stay integer PCM.
		mono[i] = (buf.Data[2*i] + buf.Data[2*i+1]) / 2
	}

	out := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: buf.Format.SampleRate},
		Data:           mono,
		SourceBitDepth: buf.SourceBitDepth,
	}
	return writeIntBuffer(output, out)
}

// MonoPrefix is prepended to converted file names.
const MonoPrefix = "mono_"

// ConvertResult reports the outcome for one file of ConvertDir.
type ConvertResult struct {
	Input  string
	Output string
	Err    error
}

// ConvertDir converts every stereo WAV in dir to mono_<name>.
// Files that are not stereo are reported with ErrNotStereo and left untouched.
// Previously converted outputs are ignored as inputs.
func ConvertDir(dir string) ([]ConvertResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var results []ConvertResult
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".wav") || strings.HasPrefix(name, MonoPrefix) {
			continue
		}
		in := filepath.Join(dir, name)
		out := filepath.Join(dir, MonoPrefix+name)
		res := ConvertResult{Input: in, Output: out}
		if err := StereoToMono(in, out); err != nil {
			res.Output = ""
			res.Err = err
		}
		results = append(results, res)
	}
	return results, nil
}

// IsNotStereo reports whether err came from converting a non-stereo file.
func IsNotStereo(err error) bool {
	return errors.Is(err, ErrNotStereo)
}
