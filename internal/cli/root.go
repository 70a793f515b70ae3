package cli

import (
	"github.com/spf13/cobra"

	"github.com/alnah/corpusvad/internal/logging"
)

// NewRootCmd creates the corpusvad command tree. The structured logger is
// built before any subcommand runs and synced after it returns.
func NewRootCmd(env *Env, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "corpusvad",
		Short: "Locate speech segments across a corpus of WAV recordings",
		Long: `corpusvad finds speech segments in every WAV file of a corpus.

The corpus is split into shards extracted in parallel with per-shard
checkpoints, so an interrupted run resumes where it stopped. Shard outputs
are merged into one deduplicated dataset (CSV and Parquet) and summarized
in a report with a duration histogram.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env.Logger = logging.New(logging.Options{
				Console: env.Stderr,
				Verbose: env.Verbose,
				Quiet:   isWorker(cmd),
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if env.Logger != nil {
				_ = env.Logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&env.Verbose, "verbose", "v", false, "Log debug details")

	root.AddCommand(RunCmd(env))
	root.AddCommand(ExtractCmd(env))
	root.AddCommand(MergeCmd(env))
	root.AddCommand(ReportCmd(env))
	root.AddCommand(MonoCmd(env))
	root.AddCommand(ConfigCmd(env))

	return root
}

// isWorker reports whether cmd runs a shard manifest for a parent pool.
func isWorker(cmd *cobra.Command) bool {
	f := cmd.Flags().Lookup("manifest")
	return f != nil && f.Value.String() != ""
}
