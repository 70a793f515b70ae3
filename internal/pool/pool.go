// Package pool runs one extraction worker per shard and waits for all of
// them. A failing worker never stops its siblings.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alnah/corpusvad/internal/planner"
)

// ProgressFunc receives the number of files a worker has finished.
type ProgressFunc func(done, total int)

// Runner executes one shard to completion.
type Runner interface {
	RunShard(ctx context.Context, manifestPath string, m planner.Manifest, progress ProgressFunc) error
}

// Result is the outcome of one shard worker.
type Result struct {
	Shard   int
	Files   int
	Err     error
	Elapsed time.Duration
}

// Pool fans shards out to a Runner.
type Pool struct {
	runner   Runner
	settings planner.Settings
	limit    int
	runID    string
	logger   *zap.Logger
	output   io.Writer
}

// Option configures a Pool.
type Option func(*Pool)

// WithLimit caps concurrently running workers. Zero or negative means one
// worker per shard.
func WithLimit(n int) Option {
	return func(p *Pool) { p.limit = n }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(p *Pool) {
		if id != "" {
			p.runID = id
		}
	}
}

// WithLogger sets the structured logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProgressOutput renders one progress bar per shard to w.
// Without it no bars are drawn.
func WithProgressOutput(w io.Writer) Option {
	return func(p *Pool) { p.output = w }
}

// New returns a pool that runs shards with runner using settings.
func New(runner Runner, settings planner.Settings, opts ...Option) *Pool {
	p := &Pool{
		runner:   runner,
		settings: settings,
		runID:    uuid.NewString(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunID returns the id stamped on every manifest of this pool.
func (p *Pool) RunID() string { return p.runID }

// Run writes a manifest per shard, starts the workers and blocks until all
// of them exit. Results are indexed like shards. The error is ErrShardFailed
// when at least one worker failed, or ctx.Err() when canceled.
func (p *Pool) Run(ctx context.Context, shards []planner.Shard) ([]Result, error) {
	if err := planner.Validate(shards); err != nil {
		return nil, err
	}

	paths := make([]string, len(shards))
	manifests := make([]planner.Manifest, len(shards))
	for i, s := range shards {
		manifests[i] = planner.Manifest{RunID: p.runID, Shard: s, Settings: p.settings}
		path, err := planner.WriteManifest(manifests[i])
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", s.ID, err)
		}
		paths[i] = path
	}

	var bars *mpb.Progress
	if p.output != nil {
		bars = mpb.NewWithContext(ctx, mpb.WithOutput(p.output), mpb.WithWidth(48))
	}

	results := make([]Result, len(shards))
	g := new(errgroup.Group)
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}

	for i, s := range shards {
		results[i] = Result{Shard: s.ID, Files: len(s.Files)}
		if len(s.Files) == 0 {
			p.logger.Debug("empty shard, no worker started", zap.Int("shard", s.ID))
			continue
		}

		bar := p.addBar(bars, s)
		g.Go(func() error {
			start := time.Now()
			log := p.logger.With(zap.String("run", p.runID), zap.Int("shard", s.ID))
			log.Info("worker started", zap.Int("files", len(s.Files)))

			progress := func(done, _ int) {
				if bar != nil {
					bar.SetCurrent(int64(done))
				}
			}
			err := p.runner.RunShard(ctx, paths[i], manifests[i], progress)

			results[i].Err = err
			results[i].Elapsed = time.Since(start)
			if bar != nil {
				if err != nil {
					bar.Abort(false)
				} else {
					bar.SetTotal(-1, true)
				}
			}

			if err != nil {
				log.Error("worker failed", zap.Error(err), zap.Duration("elapsed", results[i].Elapsed))
			} else {
				log.Info("worker finished", zap.Duration("elapsed", results[i].Elapsed))
			}
			// Sibling workers keep running; failures are reported per shard.
			return nil
		})
	}

	_ = g.Wait()
	if bars != nil {
		bars.Wait()
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if failed := Failed(results); len(failed) > 0 {
		return results, fmt.Errorf("%d of %d shards: %w\n%w", len(failed), len(shards), ErrShardFailed, Err(results))
	}
	return results, nil
}

func (p *Pool) addBar(bars *mpb.Progress, s planner.Shard) *mpb.Bar {
	if bars == nil {
		return nil
	}
	name := fmt.Sprintf("shard %d ", s.ID)
	return bars.AddBar(int64(len(s.Files)),
		mpb.PrependDecorators(
			decor.Name(name),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnAbort(decor.OnComplete(decor.Percentage(), "done"), "failed"),
		),
	)
}

// Failed returns the results whose worker reported an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Err joins every worker error, or returns nil.
func Err(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", r.Shard, r.Err))
		}
	}
	return errors.Join(errs...)
}
