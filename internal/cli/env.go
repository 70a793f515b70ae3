package cli

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/alnah/corpusvad/internal/config"
	"github.com/alnah/corpusvad/internal/extract"
	"github.com/alnah/corpusvad/internal/pool"
	"github.com/alnah/corpusvad/internal/vad"
)

// Env holds injectable dependencies for CLI commands.
// This is the central injection point for testing CLI commands in isolation.
//
// All fields have sensible defaults via DefaultEnv(). Tests can override
// specific fields using the With* options or by creating a custom Env.
//
// Env must not be nil when passed to command functions. Use DefaultEnv()
// or NewEnv() to create a valid instance.
type Env struct {
	// I/O and environment
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string
	Now    func() time.Time

	// Logger is built by the root command before any subcommand runs.
	// Nil means no structured logging.
	Logger  *zap.Logger
	Verbose bool

	// Factories for domain objects
	ConfigLoader    ConfigLoader
	DetectorFactory extract.DetectorFactory
	RunnerFactory   RunnerFactory
}

// ConfigLoader loads and provides access to configuration.
type ConfigLoader interface {
	Load() (config.Config, error)
}

// RunnerFactory creates the shard runner used by the pool.
type RunnerFactory interface {
	// NewRunner returns an in-process runner when inProcess is set and a
	// re-exec runner otherwise. extraArgs are appended to worker commands.
	NewRunner(env *Env, inProcess bool, extraArgs ...string) (pool.Runner, error)
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithStdout sets the stdout writer.
func WithStdout(w io.Writer) EnvOption {
	return func(e *Env) {
		e.Stdout = w
	}
}

// WithStderr sets the stderr writer.
func WithStderr(w io.Writer) EnvOption {
	return func(e *Env) {
		e.Stderr = w
	}
}

// WithGetenv sets the environment variable getter.
func WithGetenv(fn func(string) string) EnvOption {
	return func(e *Env) {
		e.Getenv = fn
	}
}

// WithNow sets the time provider.
func WithNow(fn func() time.Time) EnvOption {
	return func(e *Env) {
		e.Now = fn
	}
}

// WithConfigLoader sets the config loader.
func WithConfigLoader(l ConfigLoader) EnvOption {
	return func(e *Env) {
		e.ConfigLoader = l
	}
}

// WithDetectorFactory sets the detector factory.
func WithDetectorFactory(f extract.DetectorFactory) EnvOption {
	return func(e *Env) {
		e.DetectorFactory = f
	}
}

// WithRunnerFactory sets the shard runner factory.
func WithRunnerFactory(f RunnerFactory) EnvOption {
	return func(e *Env) {
		e.RunnerFactory = f
	}
}

// DefaultEnv returns an Env with production defaults.
func DefaultEnv() *Env {
	return &Env{
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		Getenv:          os.Getenv,
		Now:             time.Now,
		ConfigLoader:    &defaultConfigLoader{},
		DetectorFactory: vad.New,
		RunnerFactory:   &defaultRunnerFactory{},
	}
}

// NewEnv creates an Env with the given options applied to defaults.
func NewEnv(opts ...EnvOption) *Env {
	env := DefaultEnv()
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// logger returns the configured logger or a no-op one.
func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// ---------------------------------------------------------------------------
// Default implementations - delegate to real packages
// ---------------------------------------------------------------------------

// defaultConfigLoader implements ConfigLoader using the config package.
type defaultConfigLoader struct{}

func (defaultConfigLoader) Load() (config.Config, error) {
	return config.Load()
}

// defaultRunnerFactory implements RunnerFactory with the pool runners.
type defaultRunnerFactory struct{}

func (defaultRunnerFactory) NewRunner(env *Env, inProcess bool, extraArgs ...string) (pool.Runner, error) {
	if inProcess {
		return pool.InProcessRunner{Factory: env.DetectorFactory, Logger: env.logger()}, nil
	}
	r, err := pool.NewProcessRunner("",
		pool.WithRunnerLogger(env.logger()),
		pool.WithExtraArgs(extraArgs...))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Compile-time interface verification.
var (
	_ ConfigLoader  = (*defaultConfigLoader)(nil)
	_ RunnerFactory = (*defaultRunnerFactory)(nil)
)
