package report

import "errors"

// ErrMalformedRow indicates a consolidated segment table row that cannot be parsed.
var ErrMalformedRow = errors.New("malformed segment row")

// ErrNoDurations indicates a histogram was requested without any segment.
var ErrNoDurations = errors.New("no segment durations")
