package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/alnah/corpusvad/internal/merge"
)

// SQLiteName is the database written next to the merged CSV with --sqlite.
const SQLiteName = "speech_segments.sqlite"

// MergeCmd creates the merge command.
// The env parameter provides injectable dependencies for testing.
func MergeCmd(env *Env) *cobra.Command {
	var (
		outputDir string
		sqlite    bool
	)

	cmd := &cobra.Command{
		Use:   "merge <log-dir>",
		Short: "Merge shard checkpoints into one deduplicated dataset",
		Long: `Merge every shard checkpoint found under a log directory.

Logs are deduplicated by line. Segment rows are concatenated in shard order
and deduplicated by full row, keeping the first occurrence. The merged logs,
speech_segments.csv and speech_segments.parquet are written to --output-dir.
Shard files are never modified, so merging twice gives the same result.`,
		Example: `  corpusvad merge ./logs --output-dir ./output
  corpusvad merge ./logs --sqlite`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("output-dir") {
				if v := loadConfig(env).OutputDir; v != "" {
					outputDir = v
				}
			}
			return runMerge(cmd.Context(), env, args[0], outputDir, sqlite)
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", DefaultOutputDir, "Directory for merged outputs")
	cmd.Flags().BoolVar(&sqlite, "sqlite", false, "Also write the merged dataset as SQLite")

	return cmd
}

// runMerge consolidates logRoot into outputDir and prints the counts.
func runMerge(ctx context.Context, env *Env, logRoot, outputDir string, sqlite bool) error {
	opts := merge.Options{
		LogRoot:   logRoot,
		OutputDir: outputDir,
		Logger:    env.logger(),
	}
	if sqlite {
		opts.SQLitePath = filepath.Join(outputDir, SQLiteName)
	}

	_, sum, err := merge.Run(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.Stderr, "Merged into %s: %s processed, %s without speech, %s errors, %s segments\n",
		outputDir,
		humanize.Comma(int64(sum.Processed.After)),
		humanize.Comma(int64(sum.Warnings.After)),
		humanize.Comma(int64(sum.Errors.After)),
		humanize.Comma(int64(sum.Segments.After)))
	if dup := sum.Segments.Before - sum.Segments.After; dup > 0 {
		fmt.Fprintf(env.Stderr, "  dropped %s duplicate segment rows\n", humanize.Comma(int64(dup)))
	}
	if opts.SQLitePath != "" {
		fmt.Fprintf(env.Stderr, "  SQLite copy: %s\n", opts.SQLitePath)
	}
	return nil
}
