// Package planner divides a corpus into disjoint shards, one per worker.
package planner

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Shard is the immutable assignment handed to exactly one worker.
type Shard struct {
	ID     int      `yaml:"id"`
	Files  []string `yaml:"files"`
	LogDir string   `yaml:"log_dir"`
}

// Split cuts items into n contiguous runs whose sizes differ by at most one.
// The first len(items) mod n runs get the extra item. n < 1 is treated as 1.
func Split[T any](items []T, n int) [][]T {
	if n < 1 {
		n = 1
	}
	k, m := len(items)/n, len(items)%n

	out := make([][]T, n)
	for i := 0; i < n; i++ {
		lo := i*k + min(i, m)
		hi := (i+1)*k + min(i+1, m)
		out[i] = items[lo:hi:hi]
	}
	return out
}

// Plan assigns files to one shard per worker, logging under logRoot/<id>.
// Exactly workers shards are returned; trailing shards may be empty when
// there are fewer files than workers.
func Plan(files []string, workers int, logRoot string) []Shard {
	parts := Split(files, workers)
	shards := make([]Shard, len(parts))
	for i, part := range parts {
		shards[i] = Shard{
			ID:     i,
			Files:  append([]string(nil), part...),
			LogDir: ShardDir(logRoot, i),
		}
	}
	return shards
}

// ShardDir returns the log directory of shard id.
func ShardDir(logRoot string, id int) string {
	return filepath.Join(logRoot, strconv.Itoa(id))
}

// Validate checks that shards are pairwise disjoint and have distinct log
// directories.
func Validate(shards []Shard) error {
	owner := make(map[string]int)
	dirs := make(map[string]int)
	for _, s := range shards {
		if prev, ok := dirs[filepath.Clean(s.LogDir)]; ok {
			return fmt.Errorf("shards %d and %d share log dir %s: %w", prev, s.ID, s.LogDir, ErrOverlap)
		}
		dirs[filepath.Clean(s.LogDir)] = s.ID
		for _, f := range s.Files {
			if prev, ok := owner[f]; ok {
				return fmt.Errorf("%s assigned to shards %d and %d: %w", f, prev, s.ID, ErrOverlap)
			}
			owner[f] = s.ID
		}
	}
	return nil
}
