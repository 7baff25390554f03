package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed matches every decode failure produced by Reader.
	ErrMalformed = errors.New("wire: malformed frame")
	// ErrFieldTooLarge is returned by Writer when a value exceeds its field bound.
	ErrFieldTooLarge = errors.New("wire: field too large")
)

// DecodeError carries the human-readable cause of a decode failure.
type DecodeError struct {
	Cause string
}

func (e *DecodeError) Error() string {
	return "wire: " + e.Cause
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}

func malformed(format string, args ...any) error {
	return &DecodeError{Cause: fmt.Sprintf(format, args...)}
}
