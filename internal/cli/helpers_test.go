package cli

import (
	"bytes"
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alnah/corpusvad/internal/audio"
	"github.com/alnah/corpusvad/internal/config"
	"github.com/alnah/corpusvad/internal/planner"
	"github.com/alnah/corpusvad/internal/pool"
	"github.com/alnah/corpusvad/internal/vad"
)

// ---------------------------------------------------------------------------
// syncBuffer - thread-safe bytes.Buffer for concurrent test output
// ---------------------------------------------------------------------------

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Compile-time check that syncBuffer implements io.Writer.
var _ io.Writer = (*syncBuffer)(nil)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// mockConfigLoader returns a fixed config.
type mockConfigLoader struct {
	cfg config.Config
	err error
}

func (m *mockConfigLoader) Load() (config.Config, error) {
	return m.cfg, m.err
}

// inProcessRunners always runs shards in the test process.
type inProcessRunners struct {
	mu        sync.Mutex
	extraArgs []string
}

func (f *inProcessRunners) NewRunner(env *Env, _ bool, extraArgs ...string) (pool.Runner, error) {
	f.mu.Lock()
	f.extraArgs = extraArgs
	f.mu.Unlock()
	return pool.InProcessRunner{Factory: env.DetectorFactory, Logger: env.logger()}, nil
}

// failingShardRunner fails every shard whose id is in fail.
type failingShardRunner struct {
	inner pool.Runner
	fail  map[int]bool
}

func (r failingShardRunner) RunShard(ctx context.Context, path string, m planner.Manifest, progress pool.ProgressFunc) error {
	if r.fail[m.Shard.ID] {
		return io.ErrUnexpectedEOF
	}
	return r.inner.RunShard(ctx, path, m, progress)
}

type failingRunners struct{ fail map[int]bool }

func (f failingRunners) NewRunner(env *Env, _ bool, _ ...string) (pool.Runner, error) {
	inner := pool.InProcessRunner{Factory: env.DetectorFactory, Logger: env.logger()}
	return failingShardRunner{inner: inner, fail: f.fail}, nil
}

// testEnv returns an Env writing to buffers with an empty config.
func testEnv(t *testing.T) (*Env, *syncBuffer, *syncBuffer) {
	t.Helper()
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	env := NewEnv(
		WithStdout(stdout),
		WithStderr(stderr),
		WithGetenv(func(string) string { return "" }),
		WithConfigLoader(&mockConfigLoader{}),
		WithRunnerFactory(&inProcessRunners{}),
	)
	return env, stdout, stderr
}

// ---------------------------------------------------------------------------
// Corpus fixtures
// ---------------------------------------------------------------------------

// writeSpeech writes a 3 s file: 1 s silence, 1 s tone, 1 s silence.
func writeSpeech(t *testing.T, path string) {
	t.Helper()
	n := vad.SampleRate
	samples := make([]float32, 3*n)
	for i := n; i < 2*n; i++ {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/vad.SampleRate))
	}
	if err := audio.WritePCM16(path, samples, vad.SampleRate); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeSilence writes a 2 s silent file.
func writeSilence(t *testing.T, path string) {
	t.Helper()
	if err := audio.WritePCM16(path, make([]float32, 2*vad.SampleRate), vad.SampleRate); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// newCorpus writes speech files s*.wav and silent files q*.wav.
func newCorpus(t *testing.T, speech, silent int) string {
	t.Helper()
	dir := t.TempDir()
	for i := range speech {
		writeSpeech(t, filepath.Join(dir, "s"+string(rune('a'+i))+".wav"))
	}
	for i := range silent {
		writeSilence(t, filepath.Join(dir, "q"+string(rune('a'+i))+".wav"))
	}
	return dir
}

// readLines returns the non-empty lines of path.
func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var out []string
	for _, l := range strings.Split(string(data), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
