// Package extract runs the per-file speech extraction state machine over
// the files of one shard, checkpointing every terminal state.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/alnah/corpusvad/internal/audio"
	"github.com/alnah/corpusvad/internal/checkpoint"
	"github.com/alnah/corpusvad/internal/segment"
	"github.com/alnah/corpusvad/internal/vad"
)

// Outcome is the state a file ends in after one pass.
type Outcome int

// File outcomes.
const (
	// Skipped files were completed by an earlier run.
	Skipped Outcome = iota
	// Processed files produced zero or more segment rows.
	Processed
	// Warned files had no speech at all.
	Warned
	// Failed files hit a recoverable error and will be retried next run.
	Failed
)

// String returns the lowercase outcome name used in logs.
func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Processed:
		return "processed"
	case Warned:
		return "warning"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Config holds the extraction knobs of one shard.
type Config struct {
	CorpusDir      string
	MergeThreshold float64
	MinDuration    float64
	// ExportDir, when set, receives one WAV clip per kept segment.
	ExportDir string
}

// DecodeFunc decodes a WAV file into mono samples at sampleRate.
type DecodeFunc func(path string, sampleRate int) (audio.Waveform, error)

// Event reports the outcome of one file to a progress observer.
type Event struct {
	File     string
	Outcome  Outcome
	Segments int
	Done     int
	Total    int
}

// Summary counts outcomes of a Run.
type Summary struct {
	Total     int
	Skipped   int
	Processed int
	Warnings  int
	Errors    int
	Segments  int
}

// Extractor processes files against a checkpoint store.
// It is single-threaded; one Extractor serves one shard.
type Extractor struct {
	cfg      Config
	detector vad.Detector
	store    *checkpoint.Store
	decode   DecodeFunc
	logger   *zap.Logger
	progress func(Event)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the structured logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDecoder replaces the WAV decoder. Used by tests.
func WithDecoder(fn DecodeFunc) Option {
	return func(e *Extractor) {
		if fn != nil {
			e.decode = fn
		}
	}
}

// WithProgress registers a callback invoked after each file.
func WithProgress(fn func(Event)) Option {
	return func(e *Extractor) {
		e.progress = fn
	}
}

// New returns an Extractor writing to store.
func New(cfg Config, detector vad.Detector, store *checkpoint.Store, opts ...Option) *Extractor {
	e := &Extractor{
		cfg:      cfg,
		detector: detector,
		store:    store,
		decode:   audio.Decode,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes files in order. Per-file failures are checkpointed and do
// not stop the run. Run stops between files when ctx is canceled and
// returns ctx.Err(); it also stops when the checkpoint store itself fails.
func (e *Extractor) Run(ctx context.Context, files []string) (Summary, error) {
	sum := Summary{Total: len(files)}
	if n := e.store.CompletedCount(); n > 0 {
		e.logger.Info("resuming from checkpoints", zap.Int("completed", n), zap.Int("total", len(files)))
	}

	for i, name := range files {
		if err := ctx.Err(); err != nil {
			e.logger.Info("extraction interrupted",
				zap.Int("done", i), zap.Int("total", len(files)))
			return sum, err
		}

		outcome, n, err := e.ProcessFile(name)
		if err != nil {
			return sum, err
		}

		switch outcome {
		case Skipped:
			sum.Skipped++
		case Processed:
			sum.Processed++
			sum.Segments += n
		case Warned:
			sum.Warnings++
		case Failed:
			sum.Errors++
		}

		if e.progress != nil {
			e.progress(Event{File: name, Outcome: outcome, Segments: n, Done: i + 1, Total: len(files)})
		}
	}

	e.logger.Info("shard complete",
		zap.Int("processed", sum.Processed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("warnings", sum.Warnings),
		zap.Int("errors", sum.Errors),
		zap.Int("segments", sum.Segments))
	return sum, nil
}

// ProcessFile drives one file to a terminal state and returns the number
// of segment rows written. The returned error is non-nil only when the
// checkpoint store could not record the outcome.
func (e *Extractor) ProcessFile(name string) (Outcome, int, error) {
	log := e.logger.With(zap.String("file", name))

	if e.store.Processed(name) || e.store.Warned(name) {
		log.Debug("already checkpointed, skipping")
		return Skipped, 0, nil
	}

	records, err := e.extractIsolated(name)
	switch {
	case errors.Is(err, errNoSpeech):
		log.Warn("no speech detected")
		if err := e.store.MarkWarning(name); err != nil {
			return Warned, 0, fmt.Errorf("checkpoint warning for %s: %w", name, err)
		}
		return Warned, 0, nil

	case err != nil:
		log.Error("extraction failed", zap.Error(err))
		if err := e.store.MarkError(name, err); err != nil {
			return Failed, 0, fmt.Errorf("checkpoint error for %s: %w", name, err)
		}
		return Failed, 0, nil
	}

	if err := e.store.WriteSegments(records); err != nil {
		log.Error("write segments failed", zap.Error(err))
		if markErr := e.store.MarkError(name, err); markErr != nil {
			return Failed, 0, fmt.Errorf("checkpoint error for %s: %w", name, markErr)
		}
		return Failed, 0, nil
	}
	if err := e.store.MarkProcessed(name); err != nil {
		return Failed, 0, fmt.Errorf("checkpoint processed for %s: %w", name, err)
	}

	log.Debug("file processed", zap.Int("segments", len(records)))
	return Processed, len(records), nil
}

// extractIsolated runs extract and turns a decoder or detector panic into
// an error, so one file cannot take the shard down.
func (e *Extractor) extractIsolated(name string) (records []segment.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction panicked", zap.String("file", name), zap.Any("panic", r),
				zap.Stack("stack"))
			records, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return e.extract(name)
}

// errNoSpeech signals an empty detector result.
var errNoSpeech = errors.New("no speech detected")

// extract decodes, detects, merges and filters one file.
func (e *Extractor) extract(name string) ([]segment.Record, error) {
	path := filepath.Join(e.cfg.CorpusDir, name)

	wave, err := e.decode(path, vad.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	stamps, err := e.detector.Detect(wave.Samples)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(stamps) == 0 {
		return nil, errNoSpeech
	}

	raw := make([]segment.Segment, len(stamps))
	for i, ts := range stamps {
		raw[i] = segment.FromSamples(ts.Start, ts.End, wave.SampleRate)
	}
	kept := segment.Filter(segment.Merge(raw, e.cfg.MergeThreshold), e.cfg.MinDuration)

	records := make([]segment.Record, len(kept))
	for i, s := range kept {
		records[i] = segment.NewRecord(name, s)
	}

	if e.cfg.ExportDir != "" {
		for _, r := range records {
			if _, err := audio.ExportClip(e.cfg.ExportDir, r.SegmentID, wave, r.Start, r.End); err != nil {
				return nil, fmt.Errorf("export %s: %w", r.SegmentID, err)
			}
		}
	}
	return records, nil
}
