package segment

import (
	"fmt"
	"strconv"
)

// Header is the column layout of every segment CSV, per shard and consolidated.
var Header = []string{"filename", "segment_id", "start", "end", "duration"}

// Record is one row of a segment table.
type Record struct {
	Filename  string  `parquet:"filename,dict,zstd"`
	SegmentID string  `parquet:"segment_id,zstd"`
	Start     float64 `parquet:"start,zstd"`
	End       float64 `parquet:"end,zstd"`
	Duration  float64 `parquet:"duration,zstd"`
}

// NewRecord builds the table row for a segment of filename.
func NewRecord(filename string, s Segment) Record {
	return Record{
		Filename:  filename,
		SegmentID: ID(filename, s),
		Start:     s.Start,
		End:       s.End,
		Duration:  s.Duration,
	}
}

// Row formats the record as CSV fields in Header order.
// Floats use the shortest representation that round-trips.
func (r Record) Row() []string {
	return []string{
		r.Filename,
		r.SegmentID,
		formatFloat(r.Start),
		formatFloat(r.End),
		formatFloat(r.Duration),
	}
}

// ParseRecord parses CSV fields in Header order.
func ParseRecord(fields []string) (Record, error) {
	if len(fields) != len(Header) {
		return Record{}, fmt.Errorf("expected %d fields, got %d: %w", len(Header), len(fields), ErrMalformedRecord)
	}

	values := make([]float64, 3)
	for i, raw := range fields[2:] {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Record{}, fmt.Errorf("column %s: %q is not a number: %w", Header[i+2], raw, ErrMalformedRecord)
		}
		values[i] = v
	}

	if fields[0] == "" {
		return Record{}, fmt.Errorf("empty filename: %w", ErrMalformedRecord)
	}

	return Record{
		Filename:  fields[0],
		SegmentID: fields[1],
		Start:     values[0],
		End:       values[1],
		Duration:  values[2],
	}, nil
}

// IsHeader reports whether fields is the segment table header.
func IsHeader(fields []string) bool {
	if len(fields) != len(Header) {
		return false
	}
	for i, h := range Header {
		if fields[i] != h {
			return false
		}
	}
	return true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
