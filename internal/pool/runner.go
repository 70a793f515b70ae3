package pool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alnah/corpusvad/internal/extract"
	"github.com/alnah/corpusvad/internal/logging"
	"github.com/alnah/corpusvad/internal/planner"
)

// ---------------------------------------------------------------------------
// Progress line protocol between worker process and parent
// ---------------------------------------------------------------------------

const progressPrefix = "progress "

// FormatProgress returns the line a worker writes after each file.
func FormatProgress(done, total int) string {
	return fmt.Sprintf("%s%d/%d", progressPrefix, done, total)
}

// ParseProgress parses a line written by FormatProgress.
func ParseProgress(line string) (done, total int, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), progressPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("%q: %w", line, ErrBadProgressLine)
	}
	d, t, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%q: %w", line, ErrBadProgressLine)
	}
	if done, err = strconv.Atoi(d); err != nil {
		return 0, 0, fmt.Errorf("%q: %w", line, ErrBadProgressLine)
	}
	if total, err = strconv.Atoi(t); err != nil {
		return 0, 0, fmt.Errorf("%q: %w", line, ErrBadProgressLine)
	}
	return done, total, nil
}

// ---------------------------------------------------------------------------
// ProcessRunner - one OS process per shard
// ---------------------------------------------------------------------------

// commandFn builds the worker command. Swapped in tests.
type commandFn func(ctx context.Context, name string, args ...string) *exec.Cmd

// defaultGrace is how long a worker may take to stop after an interrupt.
const defaultGrace = 10 * time.Second

// stderrTail bounds the worker stderr kept for error messages.
const stderrTail = 4096

// ProcessRunner re-executes a binary in worker mode for each shard:
//
//	<exe> extract --manifest <shard.yaml> --progress-lines
type ProcessRunner struct {
	exe     string
	args    []string
	grace   time.Duration
	command commandFn
	logger  *zap.Logger
}

// ProcessOption configures a ProcessRunner.
type ProcessOption func(*ProcessRunner)

// WithCommand sets a custom command builder (for testing).
func WithCommand(fn commandFn) ProcessOption {
	return func(r *ProcessRunner) { r.command = fn }
}

// WithGrace sets how long a worker may take to exit after an interrupt
// before it is killed.
func WithGrace(d time.Duration) ProcessOption {
	return func(r *ProcessRunner) { r.grace = d }
}

// WithExtraArgs appends arguments to every worker command line.
func WithExtraArgs(args ...string) ProcessOption {
	return func(r *ProcessRunner) { r.args = append(r.args, args...) }
}

// WithRunnerLogger sets the logger for worker output that is not progress.
func WithRunnerLogger(l *zap.Logger) ProcessOption {
	return func(r *ProcessRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewProcessRunner returns a runner that executes exe. An empty exe means
// the current executable.
func NewProcessRunner(exe string, opts ...ProcessOption) (*ProcessRunner, error) {
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		exe = self
	}
	r := &ProcessRunner{
		exe:     exe,
		grace:   defaultGrace,
		command: exec.CommandContext,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunShard starts the worker and forwards its progress lines until it exits.
// On cancellation the worker receives an interrupt and is killed after the
// grace period.
func (r *ProcessRunner) RunShard(ctx context.Context, manifestPath string, m planner.Manifest, progress ProgressFunc) error {
	args := append([]string{"extract", "--manifest", manifestPath, "--progress-lines"}, r.args...)
	cmd := r.command(ctx, r.exe, args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.grace

	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	r.forward(stdout, m.Shard.ID, progress)

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("worker exited: %w\nOutput: %s", err, msg)
		}
		return fmt.Errorf("worker exited: %w", err)
	}
	return nil
}

// forward relays progress lines from the worker until stdout closes. If a
// line cannot be scanned the rest is discarded, so the worker never blocks
// on a full pipe.
func (r *ProcessRunner) forward(stdout io.Reader, shard int, progress ProgressFunc) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		done, total, err := ParseProgress(scanner.Text())
		if err != nil {
			r.logger.Debug("worker output", zap.Int("shard", shard), zap.String("line", scanner.Text()))
			continue
		}
		if progress != nil {
			progress(done, total)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("worker output unreadable, progress stops", zap.Int("shard", shard), zap.Error(err))
		_, _ = io.Copy(io.Discard, stdout)
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

var _ io.Writer = (*tailBuffer)(nil)

// ---------------------------------------------------------------------------
// InProcessRunner - goroutine per shard, same address space
// ---------------------------------------------------------------------------

// InProcessRunner runs shards inside the current process. Each shard still
// gets its own detector, checkpoint store and process.log.
type InProcessRunner struct {
	Factory extract.DetectorFactory
	Logger  *zap.Logger
}

// RunShard implements Runner.
func (r InProcessRunner) RunShard(ctx context.Context, _ string, m planner.Manifest, progress ProgressFunc) (err error) {
	base := r.Logger
	if base == nil {
		base = zap.NewNop()
	}
	log, closeLog, err := logging.WithFile(base, m.Shard.LogDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeLog(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	log = log.With(zap.String("run", m.RunID), zap.Int("shard", m.Shard.ID))

	opts := []extract.Option{extract.WithLogger(log)}
	if progress != nil {
		opts = append(opts, extract.WithProgress(func(ev extract.Event) {
			progress(ev.Done, ev.Total)
		}))
	}
	_, err = extract.RunShard(ctx, m, r.Factory, opts...)
	return err
}
