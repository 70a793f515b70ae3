package vad

import "errors"

// ErrUnknownKind indicates an unrecognised detector kind.
var ErrUnknownKind = errors.New("unknown detector")

// ErrUnknownDevice indicates an unrecognised device selector.
var ErrUnknownDevice = errors.New("unknown device")

// ErrUnavailable indicates the detector was not compiled into this binary.
var ErrUnavailable = errors.New("detector not available in this build")

// ErrModelPath indicates a model-backed detector was requested without a model.
var ErrModelPath = errors.New("detector model path required")
