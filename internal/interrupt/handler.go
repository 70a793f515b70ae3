// Package interrupt turns SIGINT/SIGTERM into a two-stage stop for
// extraction runs: the first signal cancels the run context so the current
// file finishes, a second one within Window closes the checkpoint files and
// exits with ExitInterrupt.
package interrupt

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ExitInterrupt is the exit code for interrupt (130 = 128 + SIGINT).
const ExitInterrupt = 130

// Window is how long after the first signal a second one aborts.
const Window = 2 * time.Second

// Messages printed to the user.
const (
	StopMessage  = "\nStopping after the current file. Press Ctrl+C again to abort."
	AbortMessage = "\nAborted."
)

// Handler watches a signal channel on behalf of one run.
type Handler struct {
	mu      sync.Mutex
	first   time.Time
	state   state
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	closers []func() error

	signals <-chan os.Signal
	notify  bool
	sub     chan os.Signal
	exit    func(int)
	now     func() time.Time
	out     io.Writer
	logger  *zap.Logger
}

type state int

const (
	running state = iota
	stopping
	aborted
)

// Option configures a Handler.
type Option func(*Handler)

// WithSignals reads signals from ch instead of subscribing to the OS.
func WithSignals(ch <-chan os.Signal) Option {
	return func(h *Handler) {
		h.signals = ch
		h.notify = false
	}
}

// WithExit replaces os.Exit.
func WithExit(fn func(int)) Option {
	return func(h *Handler) { h.exit = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(h *Handler) { h.now = fn }
}

// WithOutput sets the writer for user messages. It must tolerate writes
// from the listener goroutine.
func WithOutput(w io.Writer) Option {
	return func(h *Handler) { h.out = w }
}

// WithLogger reports abort hook failures.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New starts listening and returns a context canceled on the first signal.
func New(parent context.Context, opts ...Option) (*Handler, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		cancel: cancel,
		done:   make(chan struct{}),
		notify: true,
		exit:   os.Exit,
		now:    time.Now,
		out:    os.Stderr,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.notify {
		h.sub = make(chan os.Signal, 2)
		signal.Notify(h.sub, syscall.SIGINT, syscall.SIGTERM)
		h.signals = h.sub
	}
	if h.signals != nil {
		go h.listen()
	}
	return h, ctx
}

// OnAbort registers fn to run before exiting on a second signal.
// Hooks run in registration order; their errors are logged.
func (h *Handler) OnAbort(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closers = append(h.closers, fn)
}

func (h *Handler) listen() {
	for {
		select {
		case <-h.done:
			return
		case _, ok := <-h.signals:
			if !ok || !h.handle() {
				return
			}
		}
	}
}

// handle processes one signal and reports whether to keep listening.
func (h *Handler) handle() bool {
	h.mu.Lock()
	now := h.now()

	switch {
	case h.closed || h.state == aborted:
		h.mu.Unlock()
		return false

	case h.state == running:
		h.state = stopping
		h.first = now
		h.cancel()
		h.mu.Unlock()
		fmt.Fprintln(h.out, StopMessage)
		return true

	case now.Sub(h.first) > Window:
		// Too late for an abort: restart the window.
		h.first = now
		h.mu.Unlock()
		return true
	}

	h.state = aborted
	closers := append([]func() error(nil), h.closers...)
	h.mu.Unlock()

	for _, fn := range closers {
		if err := fn(); err != nil {
			h.logger.Error("close on abort", zap.Error(err))
		}
	}
	fmt.Fprintln(h.out, AbortMessage)
	h.exit(ExitInterrupt)
	return false
}

// Interrupted reports whether at least one signal was received.
func (h *Handler) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state != running
}

// Aborted reports whether a second signal arrived within Window.
func (h *Handler) Aborted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == aborted
}

// Stop unsubscribes from the OS and ends the listener. Safe to call twice.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	if h.sub != nil {
		signal.Stop(h.sub)
	}
	close(h.done)
}
