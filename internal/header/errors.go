package header

import "errors"

var (
	// ErrNotRecognized means the stream is not a FITS or XISF container.
	// Callers treat it as "skip this file", not as a failure.
	ErrNotRecognized = errors.New("not a recognized image container")

	// ErrTruncated means the stream ended before the header was complete.
	ErrTruncated = errors.New("truncated header")

	// ErrCorrupt means the header was found but could not be decoded.
	ErrCorrupt = errors.New("corrupt header")
)
