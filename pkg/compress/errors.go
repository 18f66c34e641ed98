package compress

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrNotReady = errors.New("file not ready for download")
	ErrConflict = errors.New("a job with this fileId is already running")
)

// ValidationError carries a message that is safe to show the caller as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// CodecError wraps a failure of the image library or the transcoder.
type CodecError struct {
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("compression failed: %v", e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}
