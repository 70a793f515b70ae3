package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alnah/corpusvad/internal/config"
	"github.com/alnah/corpusvad/internal/corpus"
	"github.com/alnah/corpusvad/internal/extract"
	"github.com/alnah/corpusvad/internal/interrupt"
	"github.com/alnah/corpusvad/internal/logging"
	"github.com/alnah/corpusvad/internal/planner"
)

// extractOptions holds the parsed flags of the extract command.
type extractOptions struct {
	knobs         knobs
	exportDir     string
	manifest      string
	progressLines bool
}

// ExtractCmd creates the extract command.
// The env parameter provides injectable dependencies for testing.
func ExtractCmd(env *Env) *cobra.Command {
	var opts extractOptions

	cmd := &cobra.Command{
		Use:   "extract <corpus-dir>",
		Short: "Extract speech segments from a corpus into one log directory",
		Long: `Extract speech segments from every WAV file of a corpus without sharding.

Checkpoints are written to --log-dir: processed_files.log, warning_files.log,
error_files.log and speech_segments.csv. Re-running with the same --log-dir
skips files already processed and retries files that failed.

The first Ctrl+C stops after the current file. A second Ctrl+C within two
seconds closes the checkpoint files and exits immediately.`,
		Example: `  corpusvad extract ./corpus --log-dir ./logs
  corpusvad extract ./corpus --export-dir ./clips --min-duration 1`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.manifest != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.manifest != "" {
				return runWorker(cmd.Context(), env, opts.manifest, opts.progressLines)
			}
			if err := opts.knobs.resolve(cmd.Flags(), loadConfig(env)); err != nil {
				return err
			}
			return runExtract(cmd.Context(), env, args[0], opts)
		},
	}

	addKnobFlags(cmd, &opts.knobs, false)
	cmd.Flags().StringVar(&opts.exportDir, "export-dir", "", "Write each kept segment as a WAV clip into this directory")
	cmd.Flags().StringVar(&opts.manifest, "manifest", "", "Run one shard manifest (worker mode)")
	cmd.Flags().BoolVar(&opts.progressLines, "progress-lines", false, "Report progress as lines on stdout (worker mode)")
	_ = cmd.Flags().MarkHidden("manifest")
	_ = cmd.Flags().MarkHidden("progress-lines")

	return cmd
}

// runExtract runs the whole corpus as a single shard in this process.
func runExtract(ctx context.Context, env *Env, corpusDir string, opts extractOptions) error {
	names, err := corpus.List(corpusDir)
	if err != nil {
		return err
	}

	settings := opts.knobs.settings(corpusDir)
	settings.ExportDir = opts.exportDir
	m := planner.Manifest{
		RunID:    uuid.NewString(),
		Shard:    planner.Shard{ID: 0, Files: names, LogDir: opts.knobs.logDir},
		Settings: settings,
	}

	log, closeLog, err := logging.WithFile(env.logger(), m.Shard.LogDir)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	log = log.With(zap.String("run", m.RunID))

	fmt.Fprintf(env.Stderr, "Extracting %d files from %s into %s\n", len(names), corpusDir, m.Shard.LogDir)

	update, wait := progressBar(env.Stderr, len(names))
	sum, err := runManifest(ctx, env, m, log, update, true)
	wait()
	if err != nil {
		return err
	}

	fmt.Fprintf(env.Stderr, "Done: %d processed, %d skipped, %d without speech, %d errors, %d segments\n",
		sum.Processed, sum.Skipped, sum.Warnings, sum.Errors, sum.Segments)
	return nil
}

// runWorker runs one shard manifest written by the pool. The full log goes
// to the shard process.log. Interrupts only cancel ctx: the parent decides
// when the worker is killed.
func runWorker(ctx context.Context, env *Env, manifestPath string, lines bool) error {
	m, err := planner.ReadManifest(manifestPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logging.WithFile(env.logger(), m.Shard.LogDir)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	log = log.With(zap.String("run", m.RunID), zap.Int("shard", m.Shard.ID))

	var progress func(extract.Event)
	if lines {
		progress = progressLines(env.Stdout)
	}
	_, err = runManifest(ctx, env, m, log, progress, false)
	return err
}

// runManifest opens the shard and extracts. With interactive set it
// installs the double Ctrl+C handler, which closes the checkpoint files
// before the process exits.
func runManifest(ctx context.Context, env *Env, m planner.Manifest, log *zap.Logger, progress func(extract.Event), interactive bool) (extract.Summary, error) {
	opts := []extract.Option{extract.WithLogger(log)}
	if progress != nil {
		opts = append(opts, extract.WithProgress(progress))
	}

	run, err := extract.OpenShard(m, env.DetectorFactory, opts...)
	if err != nil {
		return extract.Summary{}, err
	}

	if interactive {
		var handler *interrupt.Handler
		handler, ctx = interrupt.New(ctx, interrupt.WithOutput(env.Stderr), interrupt.WithLogger(log))
		defer handler.Stop()
		handler.OnAbort(run.Close)
	}

	sum, err := run.Run(ctx)
	if cerr := run.Close(); err == nil {
		err = cerr
	}
	return sum, err
}

// loadConfig loads the config, warning instead of failing.
func loadConfig(env *Env) config.Config {
	c, err := env.ConfigLoader.Load()
	if err != nil {
		fmt.Fprintf(env.Stderr, "Warning: failed to load config: %v\n", err)
	}
	return c
}
