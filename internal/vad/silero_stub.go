//go:build !silero

package vad

import (
	"fmt"
	"io"
)

func newSilero(Options) (Detector, io.Closer, error) {
	return nil, nil, fmt.Errorf("%s (rebuild with -tags silero): %w", KindSilero, ErrUnavailable)
}
