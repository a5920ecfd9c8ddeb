package replay

import (
	"errors"
	"fmt"
)

var (
	errInsufficientSamples = errors.New("insufficient samples in buffer")
	errEmptyBuffer         = errors.New("buffer is empty")
)

// BufferError describes an error that occurred during an operation on
// an experience buffer
type BufferError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *BufferError) Error() string {
	return fmt.Sprintf("%v: %v", e.Op, e.Err)
}

// Unwrap returns the underlying sentinel error
func (e *BufferError) Unwrap() error {
	return e.Err
}

// IsInsufficientSamples returns whether err indicates that a buffer
// was sampled before it held enough data for a full batch
func IsInsufficientSamples(err error) bool {
	return errors.Is(err, errInsufficientSamples)
}

// IsEmptyBuffer returns whether err indicates that an empty buffer was
// sampled
func IsEmptyBuffer(err error) bool {
	return errors.Is(err, errEmptyBuffer)
}
