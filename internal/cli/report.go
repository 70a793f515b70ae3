package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alnah/corpusvad/internal/config"
	"github.com/alnah/corpusvad/internal/format"
	"github.com/alnah/corpusvad/internal/report"
)

// reportPaths locates the report artifacts. Empty names use the defaults
// inside dir.
type reportPaths struct {
	dir       string
	report    string
	histogram string
}

// ReportCmd creates the report command.
// The env parameter provides injectable dependencies for testing.
func ReportCmd(env *Env) *cobra.Command {
	var paths reportPaths

	cmd := &cobra.Command{
		Use:   "report <corpus-dir> <segments.csv>",
		Short: "Compute corpus speech statistics from a merged segment table",
		Long: `Compute corpus-wide speech statistics.

Total audio duration is read from every WAV header of the corpus. Speech
statistics come from the merged segment table. The plain-text report is
printed and written to --report; a 10-bucket histogram of segment durations
is written to --histogram.

Relative --report and --histogram paths are resolved against --output-dir.`,
		Example: `  corpusvad report ./corpus ./output/speech_segments.csv
  corpusvad report ./corpus segs.csv --report stats.txt --histogram hist.png`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("output-dir") {
				if v := loadConfig(env).OutputDir; v != "" {
					paths.dir = v
				}
			}
			return runReport(env, args[0], args[1], paths)
		},
	}

	cmd.Flags().StringVar(&paths.dir, "output-dir", DefaultOutputDir, "Directory for the report and histogram")
	cmd.Flags().StringVar(&paths.report, "report", "", "Report file (default: <output-dir>/"+report.DefaultReportName+")")
	cmd.Flags().StringVar(&paths.histogram, "histogram", "", "Histogram PNG (default: <output-dir>/"+report.DefaultHistogramName+")")

	return cmd
}

// runReport builds the report, prints it and writes both artifacts.
// The histogram is skipped when the table has no segments.
func runReport(env *Env, corpusDir, csvPath string, paths reportPaths) error {
	if _, err := os.Stat(csvPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, csvPath)
		}
		return fmt.Errorf("cannot access segment table: %w", err)
	}

	log := env.logger()
	r, err := report.Build(corpusDir, csvPath, log)
	if err != nil {
		return err
	}

	reportPath := config.ResolveOutputPath(paths.report, paths.dir, report.DefaultReportName)
	if err := r.WriteFile(reportPath); err != nil {
		return err
	}
	log.Info("report built",
		zap.Int("files", r.TotalFiles),
		zap.Int("segments", r.Segments),
		zap.Duration("audio", format.Seconds(r.TotalAudio)),
		zap.Duration("speech", format.Seconds(r.TotalSpeech)))
	_, _ = fmt.Fprint(env.Stdout, r.Text())
	fmt.Fprintf(env.Stderr, "Report written to %s\n", reportPath)

	if len(r.Durations) == 0 {
		log.Warn("no segments, histogram skipped")
		return nil
	}
	histPath := config.ResolveOutputPath(paths.histogram, paths.dir, report.DefaultHistogramName)
	if err := report.WriteHistogram(histPath, r.Durations); err != nil {
		return err
	}
	log.Debug("histogram written", zap.String("path", histPath), zap.Int("bins", report.HistogramBins))
	fmt.Fprintf(env.Stderr, "Histogram written to %s\n", histPath)
	return nil
}
