package decomp

import "fmt"

// ShapeError reports malformed input vectors: mismatched lengths, a
// non-monotonic frequency axis, or negative error estimates. A ShapeError is
// fatal for the spectrum that produced it; batch callers report it and move
// on to the next spectrum.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("input shape error: %s", e.Reason)
}

func shapeErrorf(format string, args ...any) *ShapeError {
	return &ShapeError{Reason: fmt.Sprintf(format, args...)}
}
