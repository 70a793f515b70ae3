package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/alnah/corpusvad/internal/checkpoint"
	"github.com/alnah/corpusvad/internal/cli"
	"github.com/alnah/corpusvad/internal/config"
	"github.com/alnah/corpusvad/internal/corpus"
	"github.com/alnah/corpusvad/internal/interrupt"
	"github.com/alnah/corpusvad/internal/merge"
	"github.com/alnah/corpusvad/internal/planner"
	"github.com/alnah/corpusvad/internal/pool"
	"github.com/alnah/corpusvad/internal/report"
	"github.com/alnah/corpusvad/internal/segment"
	"github.com/alnah/corpusvad/internal/vad"
)

// Injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitUsage      = 2
	ExitSetup      = 3
	ExitValidation = 4
	ExitExtraction = 5
	ExitReport     = 6
	ExitInterrupt  = interrupt.ExitInterrupt
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	// Context with signal cancellation.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := cli.DefaultEnv()
	rootCmd := cli.NewRootCmd(env, fmt.Sprintf("%s (commit: %s)", version, commit))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors to exit codes.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	// Check for context cancellation (interrupt).
	if errors.Is(err, context.Canceled) {
		return ExitInterrupt
	}

	// Usage errors (ExitUsage = 2): Cobra flag/arg parsing errors.
	if isCobraUsageError(err) {
		return ExitUsage
	}

	// Setup errors (ExitSetup = 3).
	if errors.Is(err, vad.ErrUnavailable) || errors.Is(err, vad.ErrModelPath) ||
		errors.Is(err, corpus.ErrCorpusNotFound) || errors.Is(err, corpus.ErrExclusionSource) ||
		errors.Is(err, merge.ErrLogRootNotFound) {
		return ExitSetup
	}

	// Validation errors (ExitValidation = 4).
	if errors.Is(err, cli.ErrInvalidFlag) || errors.Is(err, cli.ErrFileNotFound) ||
		errors.Is(err, config.ErrInvalidValue) || errors.Is(err, config.ErrUnknownKey) ||
		errors.Is(err, config.ErrNotDirectory) || errors.Is(err, config.ErrNotWritable) ||
		errors.Is(err, vad.ErrUnknownKind) || errors.Is(err, vad.ErrUnknownDevice) ||
		errors.Is(err, planner.ErrInvalidManifest) || errors.Is(err, planner.ErrOverlap) {
		return ExitValidation
	}

	// Extraction errors (ExitExtraction = 5).
	if errors.Is(err, pool.ErrShardFailed) || errors.Is(err, checkpoint.ErrClosed) ||
		errors.Is(err, segment.ErrMalformedRecord) {
		return ExitExtraction
	}

	// Report errors (ExitReport = 6).
	if errors.Is(err, report.ErrMalformedRow) || errors.Is(err, report.ErrNoDurations) {
		return ExitReport
	}

	return ExitGeneral
}

// cobraUsageErrorPatterns contains error message substrings that indicate Cobra usage errors.
// Cobra doesn't expose typed errors, so string matching is the only reliable approach.
var cobraUsageErrorPatterns = []string{
	"required flag",             // Missing required flag
	"unknown flag",              // Flag doesn't exist
	"unknown shorthand",         // Short flag doesn't exist
	"unknown command",           // Subcommand doesn't exist
	"flag needs an argument",    // Flag provided without value
	"invalid argument",          // Invalid flag value type
	"if any flags in the group", // Mutually exclusive flag violation
	"accepts ",                  // Wrong number of arguments (e.g., "accepts 1 arg(s)")
	"requires at least",         // Too few arguments
	"requires at most",          // Too many arguments
}

// isCobraUsageError checks if an error is a Cobra usage/parsing error.
func isCobraUsageError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	for _, pattern := range cobraUsageErrorPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}
