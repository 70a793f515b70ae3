package extract

import "errors"

// ErrPanic wraps a panic recovered while extracting one file.
var ErrPanic = errors.New("extraction panicked")
