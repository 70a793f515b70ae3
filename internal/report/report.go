// Package report computes corpus-wide speech statistics from the corpus
// directory and the consolidated segment table.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/alnah/corpusvad/internal/checkpoint"
	"github.com/alnah/corpusvad/internal/corpus"
	"github.com/alnah/corpusvad/internal/format"
	"github.com/alnah/corpusvad/internal/segment"
)

// Default artifact names.
const (
	DefaultReportName    = "report.txt"
	DefaultHistogramName = "segment_durations_histogram.png"
)

// NoSegmentsMessage replaces the distribution lines when nothing is computable.
const NoSegmentsMessage = "No valid segments found in any files."

// Stats is the segment duration distribution.
type Stats struct {
	Max       float64
	Quartiles [3]float64
	Mean      float64
	StdDev    float64
}

// Report is the derived corpus summary.
type Report struct {
	TotalFiles         int
	FilesWithoutSpeech int
	TotalAudio         float64
	TotalSpeech        float64
	Segments           int
	// Durations are the segment durations in table order.
	Durations []float64
	// Stats is nil when the report is degenerate.
	Stats *Stats

	// Warnings and Errors count lines of the consolidated logs found next to
	// the segment table; -1 when the log is absent.
	Warnings int
	Errors   int
}

// Degenerate reports whether percentages and distribution are undefined.
func (r Report) Degenerate() bool {
	return r.Segments == 0 || r.TotalAudio <= 0
}

// SpeechPercent returns the share of audio classified as speech.
func (r Report) SpeechPercent() float64 {
	if r.TotalAudio <= 0 {
		return 0
	}
	return r.TotalSpeech / r.TotalAudio * 100
}

// Build reads every WAV header in corpusDir and the segment table at
// csvPath. Unreadable WAV files count as files with zero duration.
// A malformed table row is fatal and wraps ErrMalformedRow.
func Build(corpusDir, csvPath string, logger *zap.Logger) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	names, err := corpus.List(corpusDir)
	if err != nil {
		return Report{}, err
	}
	files, failed := corpus.Probe(corpusDir, names)
	for _, name := range names {
		if err, ok := failed[name]; ok {
			logger.Warn("cannot read duration", zap.String("file", name), zap.Error(err))
		}
	}

	r := Report{TotalFiles: len(names), Warnings: -1, Errors: -1}
	for _, f := range files {
		r.TotalAudio += f.Duration
	}

	records, err := ReadSegments(csvPath)
	if err != nil {
		return Report{}, err
	}

	withSpeech := make(map[string]struct{})
	r.Durations = make([]float64, len(records))
	for i, rec := range records {
		r.Durations[i] = rec.Duration
		withSpeech[rec.Filename] = struct{}{}
	}
	r.Segments = len(records)
	r.TotalSpeech = floats.Sum(r.Durations)

	r.FilesWithoutSpeech = r.TotalFiles - len(withSpeech)
	if r.FilesWithoutSpeech < 0 {
		logger.Warn("segment table names files absent from the corpus",
			zap.Int("distinct", len(withSpeech)), zap.Int("corpus", r.TotalFiles))
		r.FilesWithoutSpeech = 0
	}

	if !r.Degenerate() {
		r.Stats = computeStats(r.Durations)
	}

	dir := filepath.Dir(csvPath)
	r.Warnings = countLines(filepath.Join(dir, checkpoint.WarningLog))
	r.Errors = countLines(filepath.Join(dir, checkpoint.ErrorLog))
	return r, nil
}

func computeStats(durations []float64) *Stats {
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	mean, std := stat.PopMeanStdDev(durations, nil)
	return &Stats{
		Max:       floats.Max(durations),
		Quartiles: [3]float64{percentile(sorted, 25), percentile(sorted, 50), percentile(sorted, 75)},
		Mean:      mean,
		StdDev:    std,
	}
}

// percentile interpolates linearly between closest ranks of sorted data,
// rank = (n-1)*p/100.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	h := float64(n-1) * p / 100
	lo := int(h)
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

func countLines(path string) int {
	lines, err := checkpoint.ReadLines(path)
	if err != nil {
		return -1
	}
	if lines == nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return -1
		}
	}
	return len(lines)
}

// ReadSegments parses a consolidated segment CSV. The header row is
// optional; every other row must parse.
func ReadSegments(path string) ([]segment.Record, error) {
	f, err := os.Open(path) // #nosec G304 -- segment table chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("open segment table: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []segment.Record
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		line, _ := r.FieldPos(0)
		if line == 1 && segment.IsHeader(fields) {
			continue
		}
		rec, err := segment.ParseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Text rendering
// ---------------------------------------------------------------------------

// Text renders the plain-text report.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total Number of Files: %d\n", r.TotalFiles)
	fmt.Fprintf(&b, "Number of Files Without Speech: %d\n", r.FilesWithoutSpeech)
	fmt.Fprintf(&b, "Total Audio Duration: %.2f seconds => %s\n", r.TotalAudio, format.Spelled(r.TotalAudio))
	fmt.Fprintf(&b, "Total Speech Duration: %.2f seconds => %s\n", r.TotalSpeech, format.Spelled(r.TotalSpeech))

	if r.Degenerate() || r.Stats == nil {
		fmt.Fprintf(&b, "Total Number of Speech Segments: %d\n", r.Segments)
		b.WriteString(NoSegmentsMessage + "\n")
	} else {
		s := r.Stats
		speech := r.SpeechPercent()
		fmt.Fprintf(&b, "Percentage of Speech: %.2f%%\n", speech)
		fmt.Fprintf(&b, "Percentage of Non-Speech: %.2f%%\n", 100-speech)
		fmt.Fprintf(&b, "Total Number of Speech Segments: %d\n", r.Segments)
		fmt.Fprintf(&b, "Maximum Segment Duration: %.2f seconds\n", s.Max)
		fmt.Fprintf(&b, "Segment Duration Quartiles: [%.2f %.2f %.2f]\n", s.Quartiles[0], s.Quartiles[1], s.Quartiles[2])
		fmt.Fprintf(&b, "Mean Segment Duration: %.2f seconds\n", s.Mean)
		fmt.Fprintf(&b, "Standard Deviation of Segment Durations: %.2f seconds\n", s.StdDev)
	}

	if r.Warnings >= 0 {
		fmt.Fprintf(&b, "Number of Files With Warnings: %d\n", r.Warnings)
	}
	if r.Errors >= 0 {
		fmt.Fprintf(&b, "Number of Files With Errors: %d\n", r.Errors)
	}
	return b.String()
}

// WriteFile writes the text report to path.
func (r Report) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil { // #nosec G301 -- report dir chosen by the operator
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.Text()), 0644); err != nil { // #nosec G306 -- not secret
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
