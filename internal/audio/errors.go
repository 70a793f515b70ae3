package audio

import "errors"

// ErrInvalidWAV indicates the file is not a readable RIFF/WAVE container.
var ErrInvalidWAV = errors.New("invalid wav file")

// ErrUnsupportedEncoding indicates a WAV payload that is not integer PCM.
var ErrUnsupportedEncoding = errors.New("unsupported wav encoding")

// ErrUnsupportedChannels indicates more than two channels.
var ErrUnsupportedChannels = errors.New("unsupported channel count")

// ErrNotStereo indicates a mono conversion was requested for a non-stereo file.
var ErrNotStereo = errors.New("not a stereo file")

// ErrEmptyAudio indicates a WAV file with no samples.
var ErrEmptyAudio = errors.New("wav file has no samples")
