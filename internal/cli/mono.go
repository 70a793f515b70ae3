package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alnah/corpusvad/internal/audio"
)

// MonoCmd creates the mono command.
// The env parameter provides injectable dependencies for testing.
func MonoCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "mono <dir>",
		Short: "Convert stereo WAV files to mono",
		Long: `Convert every stereo WAV file of a directory to mono.

Each stereo file <name>.wav gets a sibling mono_<name>.wav whose samples are
the average of both channels. Files that are not stereo are reported and
left untouched. Existing mono_ files are never used as inputs.`,
		Example: `  corpusvad mono ./recordings`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMono(env, args[0])
		},
	}
}

// runMono converts dir and reports each file.
// Non-stereo files are skipped; any other failure makes the command fail
// after the whole directory was attempted.
func runMono(env *Env, dir string) error {
	results, err := audio.ConvertDir(dir)
	if err != nil {
		return err
	}

	log := env.logger()
	var converted, skipped, failed int
	for _, r := range results {
		name := filepath.Base(r.Input)
		switch {
		case r.Err == nil:
			converted++
			fmt.Fprintf(env.Stderr, "  %s -> %s\n", name, filepath.Base(r.Output))
		case audio.IsNotStereo(r.Err):
			skipped++
			fmt.Fprintf(env.Stderr, "  %s: skipped (not stereo)\n", name)
		default:
			failed++
			log.Error("conversion failed", zap.String("file", name), zap.Error(r.Err))
			fmt.Fprintf(env.Stderr, "  %s: %v\n", name, r.Err)
		}
	}

	fmt.Fprintf(env.Stderr, "Converted %d, skipped %d, failed %d\n", converted, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d files: %w", failed, len(results), ErrConversionFailed)
	}
	return nil
}
