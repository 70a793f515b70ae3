package cli

import "errors"

// CLI-specific sentinel errors.
// These are validation/usage errors that don't belong to domain packages.

var (
	// ErrInvalidFlag indicates a flag or config value that cannot be used.
	ErrInvalidFlag = errors.New("invalid flag value")

	// ErrFileNotFound indicates the specified input file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrConversionFailed indicates at least one stereo file could not be converted.
	ErrConversionFailed = errors.New("mono conversion failed")
)
