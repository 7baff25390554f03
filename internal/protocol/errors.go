package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/companion/internal/protocol/wire"
)

var (
	// ErrMalformedFrame matches every Decode failure.
	ErrMalformedFrame = wire.ErrMalformed
	// ErrInvalidArgument matches Encode failures caused by out-of-bound values.
	ErrInvalidArgument = errors.New("protocol: invalid argument")
)

// FrameErrorKind classifies decode failures for logging and metrics. All
// kinds are the same MalformedFrame category to callers.
type FrameErrorKind int

const (
	FrameMalformed FrameErrorKind = iota
	FrameTooLarge
	FrameUnknownType
	FrameTrailing
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameTooLarge:
		return "too_large"
	case FrameUnknownType:
		return "unknown_type"
	case FrameTrailing:
		return "trailing_bytes"
	default:
		return "malformed"
	}
}

// FrameError is returned by Decode.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Msg, e.Err)
	}
	return "protocol: " + e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

func (e *FrameError) Is(target error) bool {
	return target == ErrMalformedFrame
}

// IsMalformed reports whether err is a decode failure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedFrame)
}

// FrameErrorKindOf returns the kind of a decode failure, or FrameMalformed
// when err carries no *FrameError.
func FrameErrorKindOf(err error) FrameErrorKind {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FrameMalformed
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
