// Package checkpoint persists per-shard extraction state: three append-only
// logs and the segment CSV. Every write is flushed and synced before it
// returns, so a killed worker loses at most the file it was working on.
package checkpoint

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alnah/corpusvad/internal/segment"
)

// Artifact file names inside a shard directory.
const (
	ProcessedLog = "processed_files.log"
	WarningLog   = "warning_files.log"
	ErrorLog     = "error_files.log"
	SegmentsCSV  = "speech_segments.csv"
	ProcessLog   = "process.log"
)

// Store is the checkpoint state of one shard directory.
// Methods are safe for concurrent use so an interrupt handler can Close
// while the extractor is between writes.
type Store struct {
	dir string

	mu        sync.Mutex
	closed    bool
	processed *lineLog
	warning   *lineLog
	errors    *lineLog
	csvFile   *os.File
	csv       *csv.Writer

	done   map[string]struct{}
	warned map[string]struct{}
}

// Open creates dir if needed, loads previously completed files and opens
// every artifact for appending. A torn trailing line left by a crash is
// truncated away.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil { // #nosec G301 -- log dir chosen by the operator
		return nil, fmt.Errorf("create shard dir: %w", err)
	}

	// Repair before reading so a torn name never reaches the resume sets.
	for _, name := range []string{ProcessedLog, WarningLog, ErrorLog} {
		if err := repairTail(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}

	done, err := ReadLines(filepath.Join(dir, ProcessedLog))
	if err != nil {
		return nil, err
	}
	warned, err := ReadLines(filepath.Join(dir, WarningLog))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:    dir,
		done:   toSet(done),
		warned: toSet(warned),
	}

	opened := []struct {
		name string
		dst  **lineLog
	}{
		{ProcessedLog, &s.processed},
		{WarningLog, &s.warning},
		{ErrorLog, &s.errors},
	}
	for _, o := range opened {
		l, err := openLineLog(filepath.Join(dir, o.name))
		if err != nil {
			_ = s.closeAll()
			return nil, err
		}
		*o.dst = l
	}

	if err := s.openCSV(); err != nil {
		_ = s.closeAll()
		return nil, err
	}
	return s, nil
}

// Processed reports whether name is already in the processed log.
func (s *Store) Processed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.done[name]
	return ok
}

// Warned reports whether name is already in the warning log.
func (s *Store) Warned(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.warned[name]
	return ok
}

// CompletedCount returns how many files are in the processed or warning logs.
func (s *Store) CompletedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.done)
	for name := range s.warned {
		if _, ok := s.done[name]; !ok {
			n++
		}
	}
	return n
}

// WriteSegments appends rows to the segment CSV and syncs it.
func (s *Store) WriteSegments(records []segment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, r := range records {
		if err := s.csv.Write(r.Row()); err != nil {
			return fmt.Errorf("write segment row: %w", err)
		}
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return fmt.Errorf("flush segments: %w", err)
	}
	if err := s.csvFile.Sync(); err != nil {
		return fmt.Errorf("sync segments: %w", err)
	}
	return nil
}

// MarkProcessed appends name to the processed log.
func (s *Store) MarkProcessed(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.processed.append(name); err != nil {
		return err
	}
	s.done[name] = struct{}{}
	return nil
}

// MarkWarning appends name to the warning log.
func (s *Store) MarkWarning(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.warning.append(name); err != nil {
		return err
	}
	s.warned[name] = struct{}{}
	return nil
}

// MarkError appends "<name>: <message>" to the error log.
// Newlines in the message are flattened to keep one line per failure.
func (s *Store) MarkError(name string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	msg := strings.Join(strings.Fields(cause.Error()), " ")
	return s.errors.append(name + ": " + msg)
}

// Close flushes and closes every artifact. It is safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeAll()
}

func (s *Store) closeAll() error {
	var errs []error
	if s.csv != nil {
		s.csv.Flush()
		errs = append(errs, s.csv.Error())
	}
	if s.csvFile != nil {
		errs = append(errs, s.csvFile.Close())
	}
	for _, l := range []*lineLog{s.processed, s.warning, s.errors} {
		if l != nil {
			errs = append(errs, l.close())
		}
	}
	return errors.Join(errs...)
}

// openCSV opens the segment CSV for appending and writes the header when
// the file is new or empty.
func (s *Store) openCSV() error {
	path := filepath.Join(s.dir, SegmentsCSV)
	if err := repairTail(path); err != nil {
		return err
	}

	// #nosec G302 G304 -- shard artifact with standard permissions
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open segments: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat segments: %w", err)
	}

	s.csvFile = f
	s.csv = csv.NewWriter(f)
	if info.Size() == 0 {
		if err := s.csv.Write(segment.Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		s.csv.Flush()
		if err := s.csv.Error(); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync segments: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Line logs
// ---------------------------------------------------------------------------

type lineLog struct {
	f *os.File
}

func openLineLog(path string) (*lineLog, error) {
	// #nosec G302 G304 -- shard artifact with standard permissions
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	return &lineLog{f: f}, nil
}

func (l *lineLog) append(line string) error {
	if _, err := io.WriteString(l.f, line+"\n"); err != nil {
		return fmt.Errorf("append %s: %w", filepath.Base(l.f.Name()), err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filepath.Base(l.f.Name()), err)
	}
	return nil
}

func (l *lineLog) close() error {
	return l.f.Close()
}

// ReadLines returns the non-empty lines of path. A missing file yields nil.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- shard artifact path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return lines, nil
}

// repairTail truncates path after its last newline, discarding a line torn
// by a crash mid-write. Missing or empty files are left alone.
func repairTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec G304 -- shard artifact path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	const window = 4096
	end := size
	for end > 0 {
		start := max(0, end-window)
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		if i := strings.LastIndexByte(string(buf), '\n'); i >= 0 {
			keep := start + int64(i) + 1
			if keep == size {
				return nil
			}
			return f.Truncate(keep)
		}
		end = start
	}
	return f.Truncate(0)
}

func toSet(lines []string) map[string]struct{} {
	set := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		set[l] = struct{}{}
	}
	return set
}
