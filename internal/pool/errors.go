package pool

import "errors"

// ErrShardFailed indicates at least one shard worker exited with an error.
var ErrShardFailed = errors.New("shard worker failed")

// ErrBadProgressLine indicates a worker wrote an unparseable progress line.
var ErrBadProgressLine = errors.New("malformed progress line")
