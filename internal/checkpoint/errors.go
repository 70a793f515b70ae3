package checkpoint

import "errors"

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("checkpoint store closed")
