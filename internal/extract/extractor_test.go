package extract_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alnah/corpusvad/internal/audio"
	"github.com/alnah/corpusvad/internal/checkpoint"
	"github.com/alnah/corpusvad/internal/extract"
	"github.com/alnah/corpusvad/internal/planner"
	"github.com/alnah/corpusvad/internal/vad"
)

// Notes:
// - fakeCorpus stands in for both the decoder and the detector, so the
//   state machine is tested without WAV files. It counts calls per file to
//   prove resumed runs never re-detect completed files.
// - TestRunShard_energy is the end-to-end path with real WAV files.

type fakeCorpus struct {
	speech    map[string][]vad.Timestamp
	decodeErr map[string]error
	detectErr map[string]error
	panics    map[string]bool

	current string
	decodes map[string]int
	detects map[string]int
}

func newFakeCorpus() *fakeCorpus {
	return &fakeCorpus{
		speech:    map[string][]vad.Timestamp{},
		decodeErr: map[string]error{},
		detectErr: map[string]error{},
		panics:    map[string]bool{},
		decodes:   map[string]int{},
		detects:   map[string]int{},
	}
}

func (f *fakeCorpus) decode(path string, rate int) (audio.Waveform, error) {
	name := filepath.Base(path)
	f.decodes[name]++
	f.current = name
	if err := f.decodeErr[name]; err != nil {
		return audio.Waveform{}, err
	}
	return audio.Waveform{Samples: make([]float32, 3*rate), SampleRate: rate}, nil
}

func (f *fakeCorpus) Detect([]float32) ([]vad.Timestamp, error) {
	f.detects[f.current]++
	if f.panics[f.current] {
		panic("index out of range in model")
	}
	if err := f.detectErr[f.current]; err != nil {
		return nil, err
	}
	return f.speech[f.current], nil
}

func sec(s float64) int { return int(math.Round(s * vad.SampleRate)) }

func standardCorpus() *fakeCorpus {
	f := newFakeCorpus()
	// Gap of 0.1 s merges into one 2.5 s segment.
	f.speech["speech.wav"] = []vad.Timestamp{{Start: 0, End: sec(1)}, {Start: sec(1.1), End: sec(2.5)}}
	// Only segment is shorter than min duration.
	f.speech["short.wav"] = []vad.Timestamp{{Start: 0, End: sec(0.25)}}
	f.speech["quiet.wav"] = nil
	f.decodeErr["bad.wav"] = errors.New("corrupt header")
	f.detectErr["detfail.wav"] = errors.New("model exploded")
	return f
}

var standardFiles = []string{"speech.wav", "short.wav", "quiet.wav", "bad.wav", "detfail.wav"}

func newExtractor(t *testing.T, dir string, f *fakeCorpus, opts ...extract.Option) (*extract.Extractor, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := extract.Config{CorpusDir: "/corpus", MergeThreshold: 0.25, MinDuration: 0.5}
	opts = append([]extract.Option{extract.WithDecoder(f.decode)}, opts...)
	return extract.New(cfg, f, store, opts...), store
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	lines, err := checkpoint.ReadLines(path)
	require.NoError(t, err)
	return lines
}

// ---------------------------------------------------------------------------
// TestExtractor_Run - Terminal states for each kind of file
// ---------------------------------------------------------------------------

func TestExtractor_Run(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := standardCorpus()
	ex, store := newExtractor(t, dir, f)

	sum, err := ex.Run(context.Background(), standardFiles)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.Equal(t, extract.Summary{
		Total:     5,
		Processed: 2,
		Warnings:  1,
		Errors:    2,
		Segments:  1,
	}, sum)

	assert.Equal(t, []string{"speech.wav", "short.wav"}, readLines(t, filepath.Join(dir, checkpoint.ProcessedLog)))
	assert.Equal(t, []string{"quiet.wav"}, readLines(t, filepath.Join(dir, checkpoint.WarningLog)))
	assert.Equal(t, []string{
		"bad.wav: decode: corrupt header",
		"detfail.wav: detect: model exploded",
	}, readLines(t, filepath.Join(dir, checkpoint.ErrorLog)))

	assert.Equal(t, []string{
		"filename,segment_id,start,end,duration",
		"speech.wav,speech_0.00_2.50,0,2.5,2.5",
	}, readLines(t, filepath.Join(dir, checkpoint.SegmentsCSV)))
}

// ---------------------------------------------------------------------------
// TestExtractor_resume - Second pass re-detects nothing already completed
// ---------------------------------------------------------------------------

func TestExtractor_resume(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := standardCorpus()

	ex, store := newExtractor(t, dir, f)
	_, err := ex.Run(context.Background(), standardFiles)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	csvBefore, err := os.ReadFile(filepath.Join(dir, checkpoint.SegmentsCSV))
	require.NoError(t, err)

	// Fix the broken file so its retry succeeds.
	delete(f.decodeErr, "bad.wav")
	f.speech["bad.wav"] = []vad.Timestamp{{Start: sec(1), End: sec(2)}}

	ex, store = newExtractor(t, dir, f)
	sum, err := ex.Run(context.Background(), standardFiles)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.Equal(t, 3, sum.Skipped)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Errors)

	for _, name := range []string{"speech.wav", "short.wav", "quiet.wav"} {
		assert.Equal(t, 1, f.detects[name], "%s detected more than once", name)
		assert.Equal(t, 1, f.decodes[name], "%s decoded more than once", name)
	}
	assert.Equal(t, 2, f.decodes["bad.wav"], "errored file must be retried")

	csvAfter, err := os.ReadFile(filepath.Join(dir, checkpoint.SegmentsCSV))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csvAfter), string(csvBefore)), "existing rows rewritten")
	assert.Equal(t, string(csvBefore)+"bad.wav,bad_1.00_2.00,1,2,1\n", string(csvAfter))
}

// ---------------------------------------------------------------------------
// TestExtractor_interrupt - Cancellation is honored between files
// ---------------------------------------------------------------------------

func TestExtractor_interrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := standardCorpus()

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	ex, _ := newExtractor(t, dir, f, extract.WithProgress(func(ev extract.Event) {
		seen = append(seen, ev.File)
		if ev.Done == 2 {
			cancel()
		}
	}))

	sum, err := ex.Run(ctx, standardFiles)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"speech.wav", "short.wav"}, seen)
	assert.Equal(t, 2, sum.Processed)
	assert.Zero(t, f.decodes["quiet.wav"])
}

// ---------------------------------------------------------------------------
// TestExtractor_progress - One event per file with running counts
// ---------------------------------------------------------------------------

func TestExtractor_progress(t *testing.T) {
	t.Parallel()
	f := standardCorpus()

	var events []extract.Event
	ex, _ := newExtractor(t, t.TempDir(), f, extract.WithProgress(func(ev extract.Event) {
		events = append(events, ev)
	}))
	_, err := ex.Run(context.Background(), standardFiles)
	require.NoError(t, err)

	require.Len(t, events, len(standardFiles))
	wantOutcomes := []extract.Outcome{extract.Processed, extract.Processed, extract.Warned, extract.Failed, extract.Failed}
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Done)
		assert.Equal(t, len(standardFiles), ev.Total)
		assert.Equal(t, wantOutcomes[i], ev.Outcome, ev.File)
	}
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "skipped", extract.Skipped.String())
	assert.Equal(t, "processed", extract.Processed.String())
	assert.Equal(t, "warning", extract.Warned.String())
	assert.Equal(t, "error", extract.Failed.String())
	assert.Equal(t, "outcome(9)", extract.Outcome(9).String())
}

// ---------------------------------------------------------------------------
// TestExtractor_export - Clips written per kept segment
// ---------------------------------------------------------------------------

func TestExtractor_export(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	exportDir := filepath.Join(t.TempDir(), "clips")
	f := standardCorpus()

	store, err := checkpoint.Open(dir)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	cfg := extract.Config{CorpusDir: "/corpus", MergeThreshold: 0.25, MinDuration: 0.5, ExportDir: exportDir}
	ex := extract.New(cfg, f, store, extract.WithDecoder(f.decode))

	_, err = ex.Run(context.Background(), []string{"speech.wav", "short.wav"})
	require.NoError(t, err)

	entries, err := os.ReadDir(exportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "speech_0.00_2.50.wav", entries[0].Name())

	info, err := audio.Probe(filepath.Join(exportDir, entries[0].Name()))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, info.Duration(), 1e-3)
}

// ---------------------------------------------------------------------------
// TestRunShard_energy - Manifest to checkpoints with real WAV input
// ---------------------------------------------------------------------------

func TestRunShard_energy(t *testing.T) {
	t.Parallel()
	corpusDir := t.TempDir()
	logDir := filepath.Join(t.TempDir(), "0")

	silence := make([]float32, vad.SampleRate)
	tone := make([]float32, vad.SampleRate)
	for i := range tone {
		tone[i] = float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/vad.SampleRate))
	}
	speech := append(append(append([]float32{}, silence...), tone...), silence...)

	require.NoError(t, audio.WritePCM16(filepath.Join(corpusDir, "talk.wav"), speech, vad.SampleRate))
	require.NoError(t, audio.WritePCM16(filepath.Join(corpusDir, "hush.wav"), silence, vad.SampleRate))

	m := planner.Manifest{
		RunID: "test",
		Shard: planner.Shard{ID: 0, Files: []string{"hush.wav", "talk.wav", "gone.wav"}, LogDir: logDir},
		Settings: planner.Settings{
			CorpusDir:      corpusDir,
			MergeThreshold: 0.25,
			MinDuration:    0.5,
			Detector:       vad.KindEnergy,
			Device:         vad.DeviceCPU,
		},
	}

	sum, err := extract.RunShard(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Warnings)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Segments)

	rows := readLines(t, filepath.Join(logDir, checkpoint.SegmentsCSV))
	require.Len(t, rows, 2)
	assert.True(t, strings.HasPrefix(rows[1], "talk.wav,talk_"), rows[1])

	errs := readLines(t, filepath.Join(logDir, checkpoint.ErrorLog))
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "gone.wav: "), errs[0])
}

func TestRunShard_detectorUnavailable(t *testing.T) {
	t.Parallel()

	m := planner.Manifest{
		Shard:    planner.Shard{ID: 3, LogDir: filepath.Join(t.TempDir(), "3")},
		Settings: planner.Settings{CorpusDir: t.TempDir(), Detector: "nope"},
	}
	_, err := extract.RunShard(context.Background(), m, nil)
	require.ErrorIs(t, err, vad.ErrUnknownKind)
}

func TestOpenShard_closeStopsRun(t *testing.T) {
	t.Parallel()
	corpusDir := t.TempDir()
	require.NoError(t, audio.WritePCM16(filepath.Join(corpusDir, "a.wav"), make([]float32, vad.SampleRate), vad.SampleRate))

	m := planner.Manifest{
		Shard:    planner.Shard{ID: 1, Files: []string{"a.wav"}, LogDir: filepath.Join(t.TempDir(), "1")},
		Settings: planner.Settings{CorpusDir: corpusDir, Detector: vad.KindEnergy},
	}
	run, err := extract.OpenShard(m, nil)
	require.NoError(t, err)

	require.NoError(t, run.Close())
	require.NoError(t, run.Close(), "second Close returns the first result")

	_, err = run.Run(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrClosed)
}

// ---------------------------------------------------------------------------
// Fault isolation - one bad file costs one error line, never the shard
// ---------------------------------------------------------------------------

func TestExtractor_panicBecomesErrorLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := standardCorpus()
	f.panics["boom.wav"] = true
	ex, _ := newExtractor(t, dir, f)

	sum, err := ex.Run(context.Background(), []string{"boom.wav", "speech.wav", "quiet.wav"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Warnings)
	assert.Equal(t, 1, sum.Errors)

	errs := readLines(t, filepath.Join(dir, checkpoint.ErrorLog))
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "boom.wav: "), errs[0])
	assert.Contains(t, errs[0], extract.ErrPanic.Error())
	assert.Equal(t, []string{"speech.wav"}, readLines(t, filepath.Join(dir, checkpoint.ProcessedLog)))
}

// forgedWAV is a 52-byte WAV whose fmt chunk claims about 3 GB.
func forgedWAV() []byte {
	b := []byte("RIFF")
	b = binary.LittleEndian.AppendUint32(b, 44)
	b = append(b, "WAVEfmt "...)
	b = binary.LittleEndian.AppendUint32(b, 0xC3000010)
	b = binary.LittleEndian.AppendUint16(b, 1)     // PCM
	b = binary.LittleEndian.AppendUint16(b, 1)     // channels
	b = binary.LittleEndian.AppendUint32(b, 16000) // rate
	b = binary.LittleEndian.AppendUint32(b, 32000) // byte rate
	b = binary.LittleEndian.AppendUint16(b, 2)     // block align
	b = binary.LittleEndian.AppendUint16(b, 16)    // bits
	b = append(b, "data"...)
	b = binary.LittleEndian.AppendUint32(b, 8)
	return append(b, make([]byte, 8)...)
}

func TestRunShard_forgedChunkSize(t *testing.T) {
	t.Parallel()
	corpusDir := t.TempDir()
	logDir := filepath.Join(t.TempDir(), "0")
	require.NoError(t, os.WriteFile(filepath.Join(corpusDir, "b.wav"), forgedWAV(), 0644))
	require.NoError(t, audio.WritePCM16(filepath.Join(corpusDir, "c.wav"), make([]float32, vad.SampleRate), vad.SampleRate))

	m := planner.Manifest{
		Shard: planner.Shard{ID: 0, Files: []string{"b.wav", "c.wav"}, LogDir: logDir},
		Settings: planner.Settings{
			CorpusDir: corpusDir,
			Detector:  vad.KindEnergy,
			Device:    vad.DeviceCPU,
		},
	}

	sum, err := extract.RunShard(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Warnings, "the silent file after the forged one still runs")

	errs := readLines(t, filepath.Join(logDir, checkpoint.ErrorLog))
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "b.wav: "), errs[0])
	assert.Contains(t, errs[0], audio.ErrInvalidWAV.Error())
}

func TestExtractor_logsResumePoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := standardCorpus()

	first, store := newExtractor(t, dir, f)
	_, err := first.Run(context.Background(), standardFiles)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	core, logs := observer.New(zap.InfoLevel)
	second, _ := newExtractor(t, dir, f, extract.WithLogger(zap.New(core)))
	_, err = second.Run(context.Background(), standardFiles)
	require.NoError(t, err)

	entries := logs.FilterMessage("resuming from checkpoints").All()
	require.Len(t, entries, 1)
	// speech.wav, short.wav and quiet.wav reached a terminal state.
	assert.Equal(t, int64(3), entries[0].ContextMap()["completed"])
}
