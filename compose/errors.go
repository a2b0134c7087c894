package compose

import (
	"errors"
	"fmt"
)

// ErrDegenerate is reported for pages or targets without area.
var ErrDegenerate = errors.New("degenerate page size")

// OpenError reports a source which could not be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("open %s: %v", e.Path, e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// CompositionError reports a failure while building the output document.
// Page is the zero-based source page, or -1 if the failure concerns the
// source as a whole.
type CompositionError struct {
	Op   string
	Path string
	Page int
	Err  error
}

func (e *CompositionError) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s page %d: %v", e.Op, e.Path, e.Page+1, e.Err)
}

func (e *CompositionError) Unwrap() error { return e.Err }

// SaveError reports a failure to write the output file.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string { return fmt.Sprintf("save %s: %v", e.Path, e.Err) }
func (e *SaveError) Unwrap() error { return e.Err }
