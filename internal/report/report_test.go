package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alnah/corpusvad/internal/audio"
	"github.com/alnah/corpusvad/internal/checkpoint"
	"github.com/alnah/corpusvad/internal/report"
)

// Notes:
// - Corpus fixtures are silent 8 kHz WAV files; only their headers matter.
// - Expected quartiles follow linear interpolation between closest ranks.

const csvHeader = "filename,segment_id,start,end,duration\n"

func writeSilence(t *testing.T, path string, seconds int) {
	t.Helper()
	const rate = 8000
	require.NoError(t, audio.WritePCM16(path, make([]float32, seconds*rate), rate))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func corpusOf(t *testing.T, seconds ...int) string {
	t.Helper()
	dir := t.TempDir()
	for i, s := range seconds {
		writeSilence(t, filepath.Join(dir, string(rune('a'+i))+".wav"), s)
	}
	return dir
}

// ---------------------------------------------------------------------------
// TestBuild - Arithmetic on a synthetic corpus
// ---------------------------------------------------------------------------

func TestBuild(t *testing.T) {
	t.Parallel()
	corpusDir := corpusOf(t, 10, 10, 10)
	csvPath := filepath.Join(t.TempDir(), "speech_segments.csv")
	writeFile(t, csvPath, csvHeader+
		"a.wav,a_0.00_2.00,0,2,2\n"+
		"a.wav,a_3.00_6.00,3,6,3\n"+
		"b.wav,b_1.00_5.00,1,5,4\n")

	r, err := report.Build(corpusDir, csvPath, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, r.TotalFiles)
	assert.Equal(t, 1, r.FilesWithoutSpeech)
	assert.InDelta(t, 30.0, r.TotalAudio, 1e-9)
	assert.InDelta(t, 9.0, r.TotalSpeech, 1e-9)
	assert.InDelta(t, 30.0, r.SpeechPercent(), 1e-9)
	require.NotNil(t, r.Stats)

	want := strings.Join([]string{
		"Total Number of Files: 3",
		"Number of Files Without Speech: 1",
		"Total Audio Duration: 30.00 seconds => 0 hours, 0 minutes, 30 seconds",
		"Total Speech Duration: 9.00 seconds => 0 hours, 0 minutes, 9 seconds",
		"Percentage of Speech: 30.00%",
		"Percentage of Non-Speech: 70.00%",
		"Total Number of Speech Segments: 3",
		"Maximum Segment Duration: 4.00 seconds",
		"Segment Duration Quartiles: [2.50 3.00 3.50]",
		"Mean Segment Duration: 3.00 seconds",
		"Standard Deviation of Segment Durations: 0.82 seconds",
	}, "\n") + "\n"
	assert.Equal(t, want, r.Text())
}

func TestBuild_logCounts(t *testing.T) {
	t.Parallel()
	corpusDir := corpusOf(t, 5)
	out := t.TempDir()
	csvPath := filepath.Join(out, checkpoint.SegmentsCSV)
	writeFile(t, csvPath, csvHeader+"a.wav,a_0.00_1.00,0,1,1\n")
	writeFile(t, filepath.Join(out, checkpoint.WarningLog), "q.wav\nr.wav\n")
	writeFile(t, filepath.Join(out, checkpoint.ErrorLog), "")

	r, err := report.Build(corpusDir, csvPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Warnings)
	assert.Equal(t, 0, r.Errors)
	assert.Contains(t, r.Text(), "Number of Files With Warnings: 2\n")
	assert.Contains(t, r.Text(), "Number of Files With Errors: 0\n")
}

func TestBuild_unreadableFileStillCounted(t *testing.T) {
	t.Parallel()
	corpusDir := corpusOf(t, 4)
	writeFile(t, filepath.Join(corpusDir, "broken.wav"), "not a wav")
	csvPath := filepath.Join(t.TempDir(), "s.csv")
	writeFile(t, csvPath, csvHeader+"a.wav,a_0.00_1.00,0,1,1\n")

	r, err := report.Build(corpusDir, csvPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.TotalFiles)
	assert.Equal(t, 1, r.FilesWithoutSpeech)
	assert.InDelta(t, 4.0, r.TotalAudio, 1e-9)
}

// ---------------------------------------------------------------------------
// TestBuild_degenerate - No percentages when nothing is computable
// ---------------------------------------------------------------------------

func TestBuild_degenerate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		corpus func(t *testing.T) string
		csv    string
	}{
		{
			name:   "empty segment table",
			corpus: func(t *testing.T) string { return corpusOf(t, 3, 3) },
			csv:    csvHeader,
		},
		{
			name:   "zero total audio",
			corpus: func(t *testing.T) string { return t.TempDir() },
			csv:    csvHeader + "x.wav,x_0.00_1.00,0,1,1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			csvPath := filepath.Join(t.TempDir(), "s.csv")
			writeFile(t, csvPath, tt.csv)

			r, err := report.Build(tt.corpus(t), csvPath, nil)
			require.NoError(t, err)
			assert.True(t, r.Degenerate())
			assert.Nil(t, r.Stats)

			text := r.Text()
			assert.Contains(t, text, report.NoSegmentsMessage)
			assert.NotContains(t, text, "Percentage")
			assert.GreaterOrEqual(t, r.FilesWithoutSpeech, 0)
		})
	}
}

// ---------------------------------------------------------------------------
// TestBuild_errors
// ---------------------------------------------------------------------------

func TestBuild_malformedRow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		csv  string
	}{
		{name: "missing column", csv: csvHeader + "a.wav,a_0.00_1.00,0,1\n"},
		{name: "non-numeric duration", csv: csvHeader + "a.wav,a_0.00_1.00,0,1,long\n"},
		{name: "unterminated quote", csv: csvHeader + "\"a.wav,a,0,1,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			csvPath := filepath.Join(t.TempDir(), "s.csv")
			writeFile(t, csvPath, tt.csv)

			_, err := report.Build(corpusOf(t, 1), csvPath, nil)
			require.ErrorIs(t, err, report.ErrMalformedRow)
		})
	}
}

func TestBuild_missingCorpus(t *testing.T) {
	t.Parallel()
	_, err := report.Build(filepath.Join(t.TempDir(), "nope"), "s.csv", nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// TestPercentile - Linear interpolation between closest ranks
// ---------------------------------------------------------------------------

func TestPercentile(t *testing.T) {
	t.Parallel()

	data := []float64{1, 2, 3, 4}
	tests := []struct {
		p    float64
		want float64
	}{
		{p: 0, want: 1},
		{p: 25, want: 1.75},
		{p: 50, want: 2.5},
		{p: 75, want: 3.25},
		{p: 100, want: 4},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, report.Percentile(data, tt.p), 1e-12, "p=%v", tt.p)
	}
	assert.Equal(t, 7.0, report.Percentile([]float64{7}, 50))
	assert.Zero(t, report.Percentile(nil, 50))
}

// ---------------------------------------------------------------------------
// TestHistogram
// ---------------------------------------------------------------------------

func TestBins(t *testing.T) {
	t.Parallel()

	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	bins := report.Bins(values, report.HistogramBins)
	require.Len(t, bins, 10)

	var total float64
	for _, b := range bins {
		total += b.Weight
	}
	assert.Equal(t, float64(len(values)), total)
	assert.Equal(t, 2.0, bins[9].Weight, "max value falls in the last bin")
	assert.Equal(t, 0.0, bins[0].Min)
	assert.Equal(t, 10.0, bins[9].Max)

	flat := report.Bins([]float64{2, 2}, 10)
	assert.InDelta(t, 1.5, flat[0].Min, 1e-12)
	assert.InDelta(t, 2.5, flat[9].Max, 1e-12)

	assert.Nil(t, report.Bins(nil, 10))
}

func TestWriteHistogram(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "plots", report.DefaultHistogramName)

	require.NoError(t, report.WriteHistogram(path, []float64{0.5, 1.2, 1.3, 2.8, 4.0}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "not a PNG")

	require.ErrorIs(t, report.WriteHistogram(path, nil), report.ErrNoDurations)
}
