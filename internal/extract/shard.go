package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/alnah/corpusvad/internal/checkpoint"
	"github.com/alnah/corpusvad/internal/planner"
	"github.com/alnah/corpusvad/internal/vad"
)

// DetectorFactory builds a detector. vad.New satisfies it.
type DetectorFactory func(vad.Options) (vad.Detector, io.Closer, error)

// ShardRun is an opened shard: its detector and checkpoint store bound to
// an Extractor. Close is safe to call from another goroutine while Run is
// in progress; pending writes then fail with checkpoint.ErrClosed.
type ShardRun struct {
	ex       *Extractor
	files    []string
	store    *checkpoint.Store
	detector io.Closer

	once     sync.Once
	closeErr error
}

// OpenShard builds the detector selected by m.Settings and opens the shard
// checkpoint store. A nil factory means vad.New.
func OpenShard(m planner.Manifest, factory DetectorFactory, opts ...Option) (*ShardRun, error) {
	if factory == nil {
		factory = vad.New
	}

	detector, closer, err := factory(vad.Options{
		Kind:      m.Settings.Detector,
		ModelPath: m.Settings.ModelPath,
		Device:    m.Settings.Device,
	})
	if err != nil {
		return nil, fmt.Errorf("shard %d: %w", m.Shard.ID, err)
	}

	store, err := checkpoint.Open(m.Shard.LogDir)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("shard %d: %w", m.Shard.ID, err)
	}

	ex := New(Config{
		CorpusDir:      m.Settings.CorpusDir,
		MergeThreshold: m.Settings.MergeThreshold,
		MinDuration:    m.Settings.MinDuration,
		ExportDir:      m.Settings.ExportDir,
	}, detector, store, opts...)

	return &ShardRun{ex: ex, files: m.Shard.Files, store: store, detector: closer}, nil
}

// Run extracts every assigned file.
func (s *ShardRun) Run(ctx context.Context) (Summary, error) {
	return s.ex.Run(ctx, s.files)
}

// Close releases the store and the detector. Repeated calls return the
// first result.
func (s *ShardRun) Close() error {
	s.once.Do(func() {
		s.closeErr = errors.Join(s.store.Close(), s.detector.Close())
	})
	return s.closeErr
}

// RunShard runs one shard manifest to completion: it builds the detector,
// opens the shard checkpoint store and extracts every assigned file.
// A nil factory means vad.New.
func RunShard(ctx context.Context, m planner.Manifest, factory DetectorFactory, opts ...Option) (sum Summary, err error) {
	run, err := OpenShard(m, factory, opts...)
	if err != nil {
		return sum, err
	}
	defer func() { err = errors.Join(err, run.Close()) }()

	return run.Run(ctx)
}
