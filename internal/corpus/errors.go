package corpus

import "errors"

// ErrCorpusNotFound indicates the corpus directory is missing or not a directory.
var ErrCorpusNotFound = errors.New("corpus directory not found")

// ErrExclusionSource indicates an exclusion list that cannot be read.
var ErrExclusionSource = errors.New("invalid exclusion source")
