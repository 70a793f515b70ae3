package interrupt_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alnah/corpusvad/internal/interrupt"
)

// Notes:
// - Signals are injected with WithSignals; nothing subscribes to the OS
//   except TestNew_osSignals.
// - The listener goroutine writes messages, so output goes to syncBuffer.

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// steppingClock returns base, then base+step, base+2*step, ...
func steppingClock(base time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := base.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type fixture struct {
	sigs   chan os.Signal
	out    *syncBuffer
	exited chan int
	h      *interrupt.Handler
	ctx    context.Context
}

func newFixture(t *testing.T, step time.Duration, opts ...interrupt.Option) *fixture {
	t.Helper()
	f := &fixture{
		sigs:   make(chan os.Signal, 4),
		out:    &syncBuffer{},
		exited: make(chan int, 1),
	}
	base := []interrupt.Option{
		interrupt.WithSignals(f.sigs),
		interrupt.WithOutput(f.out),
		interrupt.WithClock(steppingClock(time.Unix(1_700_000_000, 0), step)),
		interrupt.WithExit(func(code int) { f.exited <- code }),
	}
	f.h, f.ctx = interrupt.New(context.Background(), append(base, opts...)...)
	t.Cleanup(f.h.Stop)
	return f
}

func (f *fixture) waitCanceled(t *testing.T) {
	t.Helper()
	select {
	case <-f.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled after first signal")
	}
}

// ---------------------------------------------------------------------------
// TestHandler - Two-stage stop
// ---------------------------------------------------------------------------

func TestHandler_firstSignalCancels(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)

	require.NoError(t, f.ctx.Err())
	assert.False(t, f.h.Interrupted())

	f.sigs <- os.Interrupt
	f.waitCanceled(t)

	assert.True(t, f.h.Interrupted())
	assert.False(t, f.h.Aborted())
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(f.out.String()), []byte("Stopping after the current file"))
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_secondSignalWithinWindowAborts(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.ErrorLevel)
	f := newFixture(t, 500*time.Millisecond, interrupt.WithLogger(zap.New(core)))

	var order []string
	var mu sync.Mutex
	record := func(name string, err error) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return err
		}
	}
	f.h.OnAbort(record("csv", nil))
	f.h.OnAbort(record("logs", errors.New("disk gone")))

	f.sigs <- os.Interrupt
	f.waitCanceled(t)
	f.sigs <- os.Interrupt

	select {
	case code := <-f.exited:
		assert.Equal(t, interrupt.ExitInterrupt, code)
	case <-time.After(time.Second):
		t.Fatal("second signal did not exit")
	}

	assert.True(t, f.h.Aborted())
	mu.Lock()
	assert.Equal(t, []string{"csv", "logs"}, order)
	mu.Unlock()
	assert.Equal(t, 1, logs.FilterMessage("close on abort").Len())
	assert.Contains(t, f.out.String(), "Aborted.")
}

func TestHandler_secondSignalOutsideWindow(t *testing.T) {
	t.Parallel()
	var closed atomic.Bool
	f := newFixture(t, interrupt.Window+time.Second)
	f.h.OnAbort(func() error { closed.Store(true); return nil })

	f.sigs <- os.Interrupt
	f.waitCanceled(t)
	f.sigs <- os.Interrupt

	select {
	case <-f.exited:
		t.Fatal("late second signal must not exit")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, f.h.Aborted())
	assert.False(t, closed.Load())
}

func TestHandler_stop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)

	f.h.Stop()
	f.h.Stop()

	select {
	case f.sigs <- os.Interrupt:
	default:
	}
	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, f.ctx.Err(), "signals after Stop are ignored")
}

func TestHandler_closedChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0)
	close(f.sigs)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.h.Interrupted())
}

func TestHandler_parentCanceled(t *testing.T) {
	t.Parallel()
	parent, cancel := context.WithCancel(context.Background())
	h, ctx := interrupt.New(parent, interrupt.WithSignals(make(chan os.Signal)))
	defer h.Stop()

	cancel()
	<-ctx.Done()
	assert.False(t, h.Interrupted(), "parent cancel is not a signal")
}

func TestNew_osSignals(t *testing.T) {
	h, ctx := interrupt.New(context.Background())
	require.NotNil(t, h)
	require.NoError(t, ctx.Err())
	h.Stop()
}

func TestExitInterruptIs130(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 130, interrupt.ExitInterrupt)
	assert.Equal(t, 2*time.Second, interrupt.Window)
}
