package cli

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alnah/corpusvad/internal/config"
	"github.com/alnah/corpusvad/internal/planner"
	"github.com/alnah/corpusvad/internal/vad"
)

// Defaults applied when neither a flag, the config file nor the
// environment provides a value.
const (
	DefaultMergeThreshold = 0.25
	DefaultMinDuration    = 0.5
	DefaultLogDir         = "logs"
	DefaultOutputDir      = "output"
)

// Flag names that differ from their config key.
const flagThreshold = "threshold"

// flagKeys maps each knob flag to its config key.
var flagKeys = map[string]string{
	flagThreshold:  config.KeyMergeThreshold,
	"min-duration": config.KeyMinDuration,
	"workers":      config.KeyWorkers,
	"device":       config.KeyDevice,
	"detector":     config.KeyDetector,
	"model-path":   config.KeyModelPath,
	"log-dir":      config.KeyLogDir,
	"output-dir":   config.KeyOutputDir,
}

// knobs are the extraction settings shared by run and extract.
type knobs struct {
	threshold   float64
	minDuration float64
	workers     int
	device      string
	detector    string
	modelPath   string
	logDir      string
	outputDir   string
}

// addKnobFlags registers the knob flags on cmd. withPool adds the flags
// only meaningful for sharded runs.
func addKnobFlags(cmd *cobra.Command, k *knobs, withPool bool) {
	f := cmd.Flags()
	f.Float64Var(&k.threshold, flagThreshold, DefaultMergeThreshold, "Merge gaps shorter than this many seconds")
	f.Float64Var(&k.minDuration, "min-duration", DefaultMinDuration, "Drop segments shorter than this many seconds")
	f.StringVar(&k.device, "device", vad.DeviceCPU, "Detector device: cpu, cuda, cuda:<n>")
	f.StringVar(&k.detector, "detector", vad.KindEnergy, "Speech detector: "+strings.Join(vad.Kinds(), ", "))
	f.StringVar(&k.modelPath, "model-path", "", "Detector model file (silero)")
	f.StringVar(&k.logDir, "log-dir", DefaultLogDir, "Checkpoint log directory")
	if withPool {
		f.IntVarP(&k.workers, "workers", "w", runtime.NumCPU(), "Number of shards and parallel workers")
		f.StringVar(&k.outputDir, "output-dir", DefaultOutputDir, "Directory for merged outputs and the report")
	}
}

// resolve fills every flag the user did not set from cfg, then validates.
// Precedence: flag > config file > environment > default.
func (k *knobs) resolve(flags *pflag.FlagSet, cfg config.Config) error {
	for name, key := range flagKeys {
		fl := flags.Lookup(name)
		if fl == nil || fl.Changed {
			continue
		}
		v := cfg.Get(key)
		if v == "" {
			continue
		}
		if err := fl.Value.Set(config.ExpandPath(v)); err != nil {
			return fmt.Errorf("%s=%q from config: %w", key, v, ErrInvalidFlag)
		}
	}
	return k.validate(flags.Lookup("workers") != nil)
}

// validate checks the numeric and enumerated knobs.
func (k *knobs) validate(withPool bool) error {
	checks := []struct{ key, value string }{
		{config.KeyMergeThreshold, strconv.FormatFloat(k.threshold, 'g', -1, 64)},
		{config.KeyMinDuration, strconv.FormatFloat(k.minDuration, 'g', -1, 64)},
		{config.KeyDetector, k.detector},
		{config.KeyDevice, k.device},
	}
	if withPool {
		checks = append(checks, struct{ key, value string }{config.KeyWorkers, strconv.Itoa(k.workers)})
	}
	for _, c := range checks {
		if err := config.Validate(c.key, c.value); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFlag, err)
		}
	}
	return nil
}

// settings returns the planner settings for corpusDir.
func (k *knobs) settings(corpusDir string) planner.Settings {
	return planner.Settings{
		CorpusDir:      corpusDir,
		MergeThreshold: k.threshold,
		MinDuration:    k.minDuration,
		Detector:       strings.ToLower(k.detector),
		ModelPath:      k.modelPath,
		Device:         strings.ToLower(k.device),
	}
}
