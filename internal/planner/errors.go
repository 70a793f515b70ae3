package planner

import "errors"

// ErrOverlap indicates two shards share a file or a log directory.
var ErrOverlap = errors.New("shards overlap")

// ErrInvalidManifest indicates a shard manifest that cannot be used.
var ErrInvalidManifest = errors.New("invalid shard manifest")
