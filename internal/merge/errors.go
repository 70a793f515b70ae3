package merge

import "errors"

// ErrLogRootNotFound indicates the log root is missing or not a directory.
var ErrLogRootNotFound = errors.New("log root not found")
