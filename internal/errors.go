package internal

import (
	"errors"
	"fmt"
)

var (
	ENOTSUP = errors.New("not supported")

	// ErrExhaustedPool means a buffer slot was checked out twice. It can only
	// happen when in-flight window accounting is broken.
	ErrExhaustedPool = errors.New("buffer pool exhausted")

	// ErrEncode wraps a failure to encode a block (compression error).
	ErrEncode = errors.New("encode failed")

	// ErrChannelClosed marks normal termination of the reader side.
	ErrChannelClosed = errors.New("channel closed")

	// ErrOrderingViolation means a position arrived twice or never arrived.
	ErrOrderingViolation = errors.New("ordering violation")

	ErrInvalidConfig = errors.New("invalid config")
)

// IoError is a fatal open/read/write/ioctl failure with enough context to
// find the failing region of the source.
type IoError struct {
	Op       string
	Path     string
	Worker   int
	Position uint64
	Offset   uint64
	Err      error
}

func (e *IoError) Error() string {
	if e.Worker < 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s (worker %d, position %d, offset %d): %v",
		e.Op, e.Path, e.Worker, e.Position, e.Offset, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// NewIoError builds an IoError not bound to a worker (open, ioctl, write).
func NewIoError(op, path string, err error) *IoError {
	return &IoError{Op: op, Path: path, Worker: -1, Err: err}
}
