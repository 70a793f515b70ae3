// Package corpus enumerates the audio files of a run and the exclusion
// lists that remove files from it.
package corpus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alnah/corpusvad/internal/audio"
)

// Extension is the only file extension treated as corpus audio.
const Extension = ".wav"

// File is one corpus recording.
type File struct {
	Name       string
	Path       string
	Duration   float64
	SampleRate int
	Channels   int
}

// List returns the names of the WAV files directly inside dir, sorted.
func List(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCorpusNotFound, dir)
		}
		return nil, fmt.Errorf("cannot access corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCorpusNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		names = append(names, e.Name())
	}
	// os.ReadDir already sorts; keep the guarantee explicit.
	slices.Sort(names)
	return names, nil
}

// Probe reads the header of every named file in dir.
// A file whose header cannot be read is returned in failed with its error
// and omitted from files.
func Probe(dir string, names []string) (files []File, failed map[string]error) {
	failed = make(map[string]error)
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := audio.Probe(path)
		if err != nil {
			failed[name] = err
			continue
		}
		files = append(files, File{
			Name:       name,
			Path:       path,
			Duration:   info.Duration(),
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
		})
	}
	return files, failed
}

// ParseExclusions reads filenames to skip from one or more plain-text lists.
// Lines are trimmed; blank lines are ignored. Every source must be a
// readable regular file.
func ParseExclusions(sources []string) (map[string]struct{}, error) {
	excluded := make(map[string]struct{})
	for _, src := range sources {
		if err := readExclusions(src, excluded); err != nil {
			return nil, err
		}
	}
	return excluded, nil
}

func readExclusions(src string, into map[string]struct{}) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExclusionSource, src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrExclusionSource, src)
	}

	f, err := os.Open(src) // #nosec G304 -- exclusion list chosen by the operator
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExclusionSource, src, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		into[name] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExclusionSource, src, err)
	}
	return nil
}

// Exclude returns names minus excluded, preserving order.
func Exclude(names []string, excluded map[string]struct{}) []string {
	kept := make([]string, 0, len(names))
	for _, n := range names {
		if _, skip := excluded[n]; !skip {
			kept = append(kept, n)
		}
	}
	return kept
}
