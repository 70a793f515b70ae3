// Package logging builds the zap loggers used by every command: a console
// core on stderr and, per log directory, a JSON process.log core.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProcessLogName is the JSON log file kept in each log directory.
const ProcessLogName = "process.log"

// Options configures New.
type Options struct {
	// Console receives human-readable lines. Nil means os.Stderr.
	Console io.Writer
	Verbose bool
	// Quiet raises the console level to warn. Used by worker processes whose
	// stderr is captured by the parent.
	Quiet bool
}

// New returns a console logger.
func New(opts Options) *zap.Logger {
	out := opts.Console
	if out == nil {
		out = os.Stderr
	}

	level := zapcore.InfoLevel
	switch {
	case opts.Verbose:
		level = zapcore.DebugLevel
	case opts.Quiet:
		level = zapcore.WarnLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !IsTerminal(out) {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), level)
	return zap.New(core)
}

// WithFile tees l into a JSON core appending to dir/process.log at debug
// level. The returned close func syncs and closes the file.
func WithFile(l *zap.Logger, dir string) (*zap.Logger, func() error, error) {
	if err := os.MkdirAll(dir, 0750); err != nil { // #nosec G301 -- log dir chosen by the operator
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, ProcessLogName)
	// #nosec G302 G304 -- log file with standard permissions
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open process log: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), zapcore.DebugLevel)

	teed := l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))

	closeFn := func() error {
		_ = teed.Sync()
		return f.Close()
	}
	return teed, closeFn, nil
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
