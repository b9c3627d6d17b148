package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyManifest reports a manifest with no data rows.
	ErrEmptyManifest = errors.New("manifest has no rows")
	// ErrMissingField reports a row whose name or image URL field is blank.
	ErrMissingField = errors.New("missing required field")
	// ErrMalformed reports a manifest that could not be parsed.
	ErrMalformed = errors.New("malformed manifest")
)

// ValidationError describes why a manifest was rejected. Kind is one of the
// sentinel errors above and is matchable with errors.Is.
type ValidationError struct {
	Kind  error
	Row   int // 1-based data row, 0 when not row specific
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Row > 0 && e.Field != "":
		return fmt.Sprintf("row %d: %s: %q", e.Row, e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func malformed(format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ErrMalformed, Err: fmt.Errorf(format, args...)}
}
