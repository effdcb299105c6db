package engine

import (
	"errors"
	"fmt"
)

// ErrOutputExists is returned when the output path is taken and overwrite
// is off.
var ErrOutputExists = errors.New("output file already exists")

// FatalInputError means the deck cannot be rendered at all. Nothing is
// written.
type FatalInputError struct {
	Err error
}

func (e *FatalInputError) Error() string { return "invalid input: " + e.Err.Error() }
func (e *FatalInputError) Unwrap() error { return e.Err }

// SlideRenderError is logged when a whole slide fails; the slide is
// replaced by a blank clip and the run continues.
type SlideRenderError struct {
	Slide int // 1-based
	Err   error
}

func (e *SlideRenderError) Error() string {
	return fmt.Sprintf("slide %d: %v", e.Slide, e.Err)
}

func (e *SlideRenderError) Unwrap() error { return e.Err }

// EncodingError means the encoder could not produce the video. Any partial
// output has been removed.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string { return "encoding failed: " + e.Err.Error() }
func (e *EncodingError) Unwrap() error { return e.Err }

// PostConditionError means the encoder reported success but the artifact is
// missing, too small or unreadable. It is handled like EncodingError.
type PostConditionError struct {
	Path string
	Size int64
	Min  int64
	Err  error
}

func (e *PostConditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("output %s failed verification: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("output %s is %d bytes, expected at least %d", e.Path, e.Size, e.Min)
}

func (e *PostConditionError) Unwrap() error { return e.Err }
