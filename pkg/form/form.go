// Package form defines the field schema that describes a fillable form and the
// reconciliation logic that maps a language model's JSON answer back onto it.
//
// A [Schema] is a tree of [Field] values. Leaf fields carry a directly
// assignable value; group fields (Type == [TypeNested]) carry an ordered list
// of children and resolve to a nested object. Schemas are treated as immutable
// once built: callers replace them wholesale rather than editing them in place.
//
// [Reconcile] turns raw model output into a [Result], and [Validate] checks a
// data object against a schema. Both are pure functions and safe to call
// concurrently with independent inputs.
package form

// Field types understood by the validator and the prompt generator. Any other
// string is accepted and passed through verbatim.
const (
	TypeText     = "text"
	TypeEmail    = "email"
	TypeTel      = "tel"
	TypeDate     = "date"
	TypeNumber   = "number"
	TypeSelect   = "select"
	TypeTextarea = "textarea"
	TypeCheckbox = "checkbox"
	TypeRadio    = "radio"
	TypeNested   = "nested"
)

// Field describes one form control or one named group of controls.
type Field struct {
	// Name is the key under which the field's value appears in model output and
	// in [Result.Data]. Unique among siblings.
	Name string `json:"name" yaml:"name"`

	// Type is the semantic kind of the field (see the Type* constants).
	Type string `json:"type" yaml:"type"`

	// Label and Placeholder are human-readable hints. They only feed prompt
	// generation and never take part in key matching.
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`

	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Options lists the selectable values of select, radio and checkbox groups
	// in declaration order.
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`

	// Pattern is a regular expression matched unanchored against string values.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// MinLength and MaxLength bound string values. Zero means unbounded.
	MinLength int `json:"minLength,omitempty" yaml:"min_length,omitempty"`
	MaxLength int `json:"maxLength,omitempty" yaml:"max_length,omitempty"`

	// Nested holds the children of a group field.
	Nested []Field `json:"nested,omitempty" yaml:"nested,omitempty"`

	// IsNested mirrors len(Nested) > 0 for clients that expect the flag.
	IsNested bool `json:"isNested,omitempty" yaml:"-"`
}

// Group reports whether f is a group field with children.
func (f Field) Group() bool {
	return len(f.Nested) > 0
}

// DisplayName returns the label when set and the name otherwise.
func (f Field) DisplayName() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// NewGroup returns a group field named name holding children. The returned
// field always has Type == [TypeNested].
func NewGroup(name string, children ...Field) Field {
	return Field{
		Name:     name,
		Type:     TypeNested,
		Nested:   children,
		IsNested: len(children) > 0,
	}
}

// Schema is the root description of one form.
type Schema struct {
	Fields      []Field `json:"fields" yaml:"fields"`
	FormName    string  `json:"formName,omitempty" yaml:"form_name,omitempty"`
	FormID      string  `json:"formId,omitempty" yaml:"form_id,omitempty"`
	TotalFields int     `json:"totalFields" yaml:"-"`
}

// NewSchema builds a [Schema] from fields, filling in TotalFields.
func NewSchema(name string, fields ...Field) Schema {
	return Schema{
		Fields:      fields,
		FormName:    name,
		TotalFields: len(fields),
	}
}

// Find returns the top-level field called name.
func (s Schema) Find(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Result is the outcome of reconciling one model response against a schema.
type Result struct {
	// Success is false only when the response as a whole could not be used.
	// Field-level problems leave Success true and show up in Errors.
	Success bool `json:"success"`

	// Data maps field names to accepted values. Group fields map to nested
	// objects keyed by child name.
	Data map[string]any `json:"data"`

	// Errors maps field names (or [GeneralErrorKey]) to human-readable messages.
	Errors map[string]string `json:"errors"`

	// UpdatedFields lists, in schema order, the names that were accepted into
	// Data.
	UpdatedFields []string `json:"updatedFields"`
}

// GeneralErrorKey is the [Result.Errors] key used for failures that are not
// scoped to a single field.
const GeneralErrorKey = "general"

func newResult() Result {
	return Result{
		Success:       true,
		Data:          make(map[string]any),
		Errors:        make(map[string]string),
		UpdatedFields: []string{},
	}
}

// FailedResult returns a result that carries only a general error message.
func FailedResult(msg string) Result {
	r := newResult()
	r.Success = false
	r.Errors[GeneralErrorKey] = msg
	return r
}
