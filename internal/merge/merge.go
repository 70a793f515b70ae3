// Package merge consolidates the per-shard checkpoint artifacts under a log
// root into one deduplicated dataset. Shard files are only read.
package merge

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/alnah/corpusvad/internal/checkpoint"
	"github.com/alnah/corpusvad/internal/segment"
)

// ParquetName is the compressed copy of the consolidated segment table.
const ParquetName = "speech_segments.parquet"

// Options configures Run.
type Options struct {
	LogRoot   string
	OutputDir string
	// SQLitePath, when set, also receives the dataset as a SQLite database.
	SQLitePath string
	Logger     *zap.Logger
}

// Count is the number of entries of one artifact before and after dedup.
type Count struct {
	Sources int
	Before  int
	After   int
}

// Summary describes what Run consolidated.
type Summary struct {
	Processed Count
	Warnings  Count
	Errors    Count
	Segments  Count
	// Reconciled counts error lines dropped because the file later
	// completed in another log.
	Reconciled int
}

// Dataset is the consolidated content written by Run.
type Dataset struct {
	Processed []string
	Warnings  []string
	Errors    []string
	Segments  []segment.Record
}

// Run locates every checkpoint artifact under opts.LogRoot, deduplicates
// them and writes the consolidated files to opts.OutputDir.
func Run(ctx context.Context, opts Options) (Dataset, Summary, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	found, err := locate(opts.LogRoot, opts.OutputDir)
	if err != nil {
		return Dataset{}, Summary{}, err
	}

	var (
		ds       Dataset
		sum      Summary
		errLines []string
	)

	if ds.Processed, sum.Processed, err = mergeLogs(found[checkpoint.ProcessedLog]); err != nil {
		return ds, sum, err
	}
	if ds.Warnings, sum.Warnings, err = mergeLogs(found[checkpoint.WarningLog]); err != nil {
		return ds, sum, err
	}
	if errLines, sum.Errors, err = mergeLogs(found[checkpoint.ErrorLog]); err != nil {
		return ds, sum, err
	}

	ds.Errors, sum.Reconciled = reconcile(errLines, ds.Processed, ds.Warnings)
	sum.Errors.After = len(ds.Errors)

	ds.Segments, sum.Segments, err = mergeSegments(found[checkpoint.SegmentsCSV])
	if err != nil {
		return ds, sum, err
	}

	if err := write(opts.OutputDir, ds); err != nil {
		return ds, sum, err
	}
	if opts.SQLitePath != "" {
		if err := WriteSQLite(ctx, opts.SQLitePath, ds); err != nil {
			return ds, sum, err
		}
	}

	for _, c := range []struct {
		name string
		c    Count
	}{
		{checkpoint.ProcessedLog, sum.Processed},
		{checkpoint.WarningLog, sum.Warnings},
		{checkpoint.ErrorLog, sum.Errors},
		{checkpoint.SegmentsCSV, sum.Segments},
	} {
		log.Info("merged",
			zap.String("artifact", c.name),
			zap.Int("sources", c.c.Sources),
			zap.String("before", humanize.Comma(int64(c.c.Before))),
			zap.String("after", humanize.Comma(int64(c.c.After))))
	}
	if sum.Reconciled > 0 {
		log.Info("dropped errors of files completed on retry", zap.Int("lines", sum.Reconciled))
	}
	return ds, sum, nil
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

var artifactNames = []string{
	checkpoint.ProcessedLog,
	checkpoint.WarningLog,
	checkpoint.ErrorLog,
	checkpoint.SegmentsCSV,
}

// locate walks root and groups artifact paths by file name, in shard order.
// The output directory is skipped when it lies under root.
func locate(root, outputDir string) (map[string][]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", root, ErrLogRootNotFound)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", root, ErrLogRootNotFound)
	}

	skip := ""
	if outputDir != "" {
		skip, _ = filepath.Abs(outputDir)
	}

	found := make(map[string][]string)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, _ := filepath.Abs(path); skip != "" && abs == skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(artifactNames, d.Name()) && d.Type().IsRegular() {
			found[d.Name()] = append(found[d.Name()], path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	for _, paths := range found {
		slices.SortFunc(paths, func(a, b string) int { return comparePaths(root, a, b) })
	}
	return found, nil
}

// comparePaths orders paths component by component, numerically when both
// components are integers, so logs/2 sorts before logs/10.
func comparePaths(root, a, b string) int {
	ra, _ := filepath.Rel(root, a)
	rb, _ := filepath.Rel(root, b)
	pa := strings.Split(filepath.ToSlash(ra), "/")
	pb := strings.Split(filepath.ToSlash(rb), "/")

	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] == pb[i] {
			continue
		}
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		if errA == nil && errB == nil {
			return cmp.Compare(na, nb)
		}
		return strings.Compare(pa[i], pb[i])
	}
	return cmp.Compare(len(pa), len(pb))
}

// ---------------------------------------------------------------------------
// Logs
// ---------------------------------------------------------------------------

// mergeLogs concatenates logs and keeps each distinct line once, sorted.
func mergeLogs(paths []string) ([]string, Count, error) {
	c := Count{Sources: len(paths)}
	seen := make(map[string]struct{})
	out := []string{}

	for _, p := range paths {
		lines, err := checkpoint.ReadLines(p)
		if err != nil {
			return nil, c, err
		}
		c.Before += len(lines)
		for _, l := range lines {
			if _, dup := seen[l]; dup {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	slices.Sort(out)
	c.After = len(out)
	return out, c, nil
}

// reconcile drops error lines of files that appear in the processed or
// warning logs, so no file ends up in two logs.
func reconcile(errLines, processed, warned []string) ([]string, int) {
	completed := make(map[string]struct{}, len(processed)+len(warned))
	for _, f := range processed {
		completed[f] = struct{}{}
	}
	for _, f := range warned {
		completed[f] = struct{}{}
	}

	out := make([]string, 0, len(errLines))
	dropped := 0
	for _, line := range errLines {
		name, _, _ := strings.Cut(line, ": ")
		if _, ok := completed[name]; ok {
			dropped++
			continue
		}
		out = append(out, line)
	}
	return out, dropped
}

// ---------------------------------------------------------------------------
// Segments
// ---------------------------------------------------------------------------

// mergeSegments concatenates segment CSVs in shard order and drops rows
// identical to an earlier one.
func mergeSegments(paths []string) ([]segment.Record, Count, error) {
	c := Count{Sources: len(paths)}
	seen := make(map[string]struct{})
	out := []segment.Record{}

	for _, p := range paths {
		rows, err := readCSV(p)
		if err != nil {
			return nil, c, err
		}
		for _, row := range rows {
			c.Before++
			key := strings.Join(row.fields, "\x1f")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			rec, err := segment.ParseRecord(row.fields)
			if err != nil {
				return nil, c, fmt.Errorf("%s line %d: %w", p, row.line, err)
			}
			out = append(out, rec)
		}
	}
	c.After = len(out)
	return out, c, nil
}

type csvRow struct {
	line   int
	fields []string
}

// readCSV returns the data rows of a segment CSV, skipping header lines.
func readCSV(path string) ([]csvRow, error) {
	f, err := os.Open(path) // #nosec G304 -- artifact found under the log root
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows []csvRow
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", path, segment.ErrMalformedRecord, err)
		}
		if segment.IsHeader(fields) {
			continue
		}
		line, _ := r.FieldPos(0)
		rows = append(rows, csvRow{line: line, fields: fields})
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func write(dir string, ds Dataset) error {
	if err := os.MkdirAll(dir, 0750); err != nil { // #nosec G301 -- output dir chosen by the operator
		return fmt.Errorf("create output dir: %w", err)
	}

	logs := []struct {
		name  string
		lines []string
	}{
		{checkpoint.ProcessedLog, ds.Processed},
		{checkpoint.WarningLog, ds.Warnings},
		{checkpoint.ErrorLog, ds.Errors},
	}
	for _, l := range logs {
		if err := writeLines(filepath.Join(dir, l.name), l.lines); err != nil {
			return err
		}
	}

	if err := writeCSV(filepath.Join(dir, checkpoint.SegmentsCSV), ds.Segments); err != nil {
		return err
	}
	if err := parquet.WriteFile(filepath.Join(dir, ParquetName), ds.Segments); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return nil
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil { // #nosec G306 -- not secret
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeCSV(path string, records []segment.Record) (err error) {
	f, err := os.Create(path) // #nosec G304 -- output path chosen by the operator
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", filepath.Base(path), cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(segment.Header); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	for _, r := range records {
		if err := w.Write(r.Row()); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadParquet loads a segment table written by Run.
func ReadParquet(path string) ([]segment.Record, error) {
	rows, err := parquet.ReadFile[segment.Record](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
