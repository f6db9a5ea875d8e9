package form

import "strings"

// Messages produced by [CheckSchema]. They match what browser clients already
// display, so they are part of the wire contract.
const (
	msgSchemaRequired = "Form structure is required"
	msgFieldsArray    = "Form structure must have a fields array"
	msgAtLeastOne     = "Form structure must have at least one field"
	msgFieldName      = "Each field must have a valid name"
)

// CheckSchema verifies that s can drive a reconciliation: it must be non-nil,
// hold at least one field, and every field at every level must have a
// non-blank name that is unique among its siblings.
//
// The returned error is a [*SchemaError]; empty schemas additionally match
// [ErrEmptySchema].
func CheckSchema(s *Schema) error {
	if s == nil {
		return &SchemaError{Reason: msgSchemaRequired, Err: ErrEmptySchema}
	}
	if s.Fields == nil {
		return &SchemaError{Reason: msgFieldsArray, Err: ErrEmptySchema}
	}
	if len(s.Fields) == 0 {
		return &SchemaError{Reason: msgAtLeastOne, Err: ErrEmptySchema}
	}
	return checkFields(s.Fields, "")
}

func checkFields(fields []Field, prefix string) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return &SchemaError{Path: prefix, Reason: msgFieldName}
		}
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		if _, dup := seen[f.Name]; dup {
			return &SchemaError{Path: path, Reason: "duplicate field name"}
		}
		seen[f.Name] = struct{}{}
		if f.Group() {
			if err := checkFields(f.Nested, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// Normalize returns a copy of s in which every group field has Type ==
// [TypeNested] and IsNested set, and TotalFields equals the number of
// top-level fields. The input is not modified.
func Normalize(s Schema) Schema {
	out := s
	out.Fields = normalizeFields(s.Fields)
	out.TotalFields = len(out.Fields)
	return out
}

func normalizeFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		if len(f.Nested) > 0 {
			f.Nested = normalizeFields(f.Nested)
			f.Type = TypeNested
			f.IsNested = true
		} else {
			f.IsNested = false
		}
		if f.Type == "" {
			f.Type = TypeText
		}
		out[i] = f
	}
	return out
}
