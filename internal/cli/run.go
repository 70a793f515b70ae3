package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alnah/corpusvad/internal/checkpoint"
	"github.com/alnah/corpusvad/internal/corpus"
	"github.com/alnah/corpusvad/internal/format"
	"github.com/alnah/corpusvad/internal/logging"
	"github.com/alnah/corpusvad/internal/planner"
	"github.com/alnah/corpusvad/internal/pool"
)

// runOptions holds the parsed flags of the run command.
type runOptions struct {
	knobs      knobs
	excludes   []string
	inProcess  bool
	sqlite     bool
	noProgress bool
}

// RunCmd creates the run command: plan, extract in parallel, merge, report.
// The env parameter provides injectable dependencies for testing.
func RunCmd(env *Env) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <corpus-dir>",
		Short: "Run the full sharded pipeline over a corpus",
		Long: `Run the full pipeline over a corpus of WAV files.

The corpus, minus any excluded files, is split into --workers contiguous
shards. Each shard is extracted by its own worker process with checkpoints
in <log-dir>/<shard>/. Once every worker has exited, the checkpoints are
merged into --output-dir and a report with a duration histogram is written.

Re-running with the same --log-dir resumes: processed files are skipped.
A failed shard does not stop the others; merge and report still run and
the command exits non-zero.`,
		Example: `  corpusvad run ./corpus --workers 8
  corpusvad run ./corpus --exclude done.txt --detector silero --model-path silero_vad.onnx
  corpusvad run ./corpus --in-process --sqlite`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.knobs.resolve(cmd.Flags(), loadConfig(env)); err != nil {
				return err
			}
			return runPipeline(cmd.Context(), env, args[0], opts)
		},
	}

	addKnobFlags(cmd, &opts.knobs, true)
	cmd.Flags().StringArrayVarP(&opts.excludes, "exclude", "e", nil, "File listing names to skip, one per line (repeatable)")
	cmd.Flags().BoolVar(&opts.inProcess, "in-process", false, "Run shards as goroutines instead of worker processes")
	cmd.Flags().BoolVar(&opts.sqlite, "sqlite", false, "Also write the merged dataset as SQLite")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress bars")

	return cmd
}

// runPipeline executes plan -> pool -> merge -> report.
// Validation order: exclusions -> corpus -> runner.
func runPipeline(ctx context.Context, env *Env, corpusDir string, opts runOptions) error {
	log := env.logger()
	start := env.Now()

	// === VALIDATION (fail-fast) ===

	excluded, err := corpus.ParseExclusions(opts.excludes)
	if err != nil {
		return err
	}
	names, err := corpus.List(corpusDir)
	if err != nil {
		return err
	}
	files := corpus.Exclude(names, excluded)

	runner, err := env.RunnerFactory.NewRunner(env, opts.inProcess, workerArgs(env)...)
	if err != nil {
		return err
	}

	// === EXTRACTION ===

	shards := planner.Plan(files, opts.knobs.workers, opts.knobs.logDir)
	poolOpts := []pool.Option{pool.WithLimit(opts.knobs.workers), pool.WithLogger(log)}
	if !opts.noProgress && logging.IsTerminal(env.Stderr) {
		poolOpts = append(poolOpts, pool.WithProgressOutput(env.Stderr))
	}
	p := pool.New(runner, opts.knobs.settings(corpusDir), poolOpts...)

	fmt.Fprintf(env.Stderr, "Run %s: %s files (%s excluded) in %d shards\n",
		p.RunID(), humanize.Comma(int64(len(files))),
		humanize.Comma(int64(len(names)-len(files))), len(shards))

	results, poolErr := p.Run(ctx, shards)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if poolErr != nil && !errors.Is(poolErr, pool.ErrShardFailed) {
		return poolErr
	}
	printShardResults(env.Stderr, results)

	// === CONSOLIDATION ===

	mergeErr := runMerge(ctx, env, opts.knobs.logDir, opts.knobs.outputDir, opts.sqlite)
	if mergeErr != nil {
		return errors.Join(poolErr, mergeErr)
	}

	csvPath := filepath.Join(opts.knobs.outputDir, checkpoint.SegmentsCSV)
	if err := runReport(env, corpusDir, csvPath, reportPaths{dir: opts.knobs.outputDir}); err != nil {
		return errors.Join(poolErr, err)
	}

	log.Info("run complete", zap.String("run", p.RunID()), zap.Duration("elapsed", env.Now().Sub(start)))
	fmt.Fprintf(env.Stderr, "Finished in %s\n", format.Duration(env.Now().Sub(start)))
	return poolErr
}

// workerArgs forwards the root logging flags to worker processes.
func workerArgs(env *Env) []string {
	if env.Verbose {
		return []string{"--verbose"}
	}
	return nil
}

// printShardResults writes one line per failed shard.
func printShardResults(w io.Writer, results []pool.Result) {
	failed := pool.Failed(results)
	for _, r := range failed {
		fmt.Fprintf(w, "Shard %d failed after %s: %v\n", r.Shard, format.Duration(r.Elapsed), r.Err)
	}
	if len(failed) > 0 {
		fmt.Fprintf(w, "%d of %d shards failed; merging what completed\n", len(failed), len(results))
	}
}
