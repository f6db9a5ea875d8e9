package form

import (
	"errors"
	"fmt"
)

var (
	// ErrNoForm is returned by extractors when the inspected document holds no
	// form at all.
	ErrNoForm = errors.New("form: no form found")

	// ErrEmptySchema is returned when a schema has no usable fields.
	ErrEmptySchema = errors.New("form: schema has no fields")
)

// SchemaError reports a structurally invalid schema. Path points at the
// offending field using dotted group names (e.g. "address.zip").
type SchemaError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return "form: invalid schema: " + e.Reason
	}
	return fmt.Sprintf("form: invalid schema at %q: %s", e.Path, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ParseError reports model output that is not a usable JSON object. It is
// fatal to the whole reconciliation call.
type ParseError struct {
	// Snippet is a short prefix of the offending input for logs.
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return "form: parse model response: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }
