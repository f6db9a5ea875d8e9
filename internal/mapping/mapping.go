// Package mapping turns declarative per-field rules from the configuration
// file into [form.FieldMapping] values.
//
// A rule names an ordered list of transforms and an optional set of
// validators:
//
//	field_mappings:
//	  phone:
//	    transform: [digits, phone_e164_us]
//	    validate:
//	      required: true
//	  state:
//	    transform: [trim, upper]
//	    validate:
//	      one_of: [CA, NY, TX]
//
// String transforms reject non-string values with an error, which
// reconciliation records against the field.
package mapping

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/MrWong99/voxfill/pkg/form"
)

// ErrUnknownTransform is returned by [Build] for a transform name that is not
// in [Transforms].
var ErrUnknownTransform = errors.New("mapping: unknown transform")

// Rule is the configuration of one field.
type Rule struct {
	Transform []string   `yaml:"transform"`
	Validate  Validation `yaml:"validate"`
}

// Validation lists the checks applied after transforms. The zero value checks
// nothing and leaves validation to the schema.
type Validation struct {
	Required  bool     `yaml:"required"`
	Pattern   string   `yaml:"pattern"`
	OneOf     []string `yaml:"one_of"`
	MinLength int      `yaml:"min_length"`
	MaxLength int      `yaml:"max_length"`

	// Message replaces every generated failure message when set.
	Message string `yaml:"message"`
}

func (v Validation) empty() bool {
	return !v.Required && v.Pattern == "" && len(v.OneOf) == 0 && v.MinLength == 0 && v.MaxLength == 0
}

// TransformFunc rewrites one value.
type TransformFunc func(value any) (any, error)

// Transforms is the registry of named transforms usable in a [Rule].
var Transforms = map[string]TransformFunc{
	"trim":            stringTransform(strings.TrimSpace),
	"lower":           stringTransform(strings.ToLower),
	"upper":           stringTransform(strings.ToUpper),
	"title":           stringTransform(title),
	"digits":          stringTransform(digits),
	"collapse_spaces": stringTransform(func(s string) string { return strings.Join(strings.Fields(s), " ") }),
	"date_iso":        dateISO,
	"phone_e164_us":   phoneE164US,
}

// TransformNames returns the registered transform names, sorted.
func TransformNames() []string {
	names := make([]string, 0, len(Transforms))
	for n := range Transforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build compiles rules into field mappings. Every problem is reported; the
// returned error joins them.
func Build(rules map[string]Rule) (map[string]form.FieldMapping, error) {
	out := make(map[string]form.FieldMapping, len(rules))
	var errs []error

	names := make([]string, 0, len(rules))
	for n := range rules {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, field := range names {
		rule := rules[field]
		var fm form.FieldMapping

		chain := make([]TransformFunc, 0, len(rule.Transform))
		for _, tn := range rule.Transform {
			fn, ok := Transforms[tn]
			if !ok {
				errs = append(errs, fmt.Errorf("%w %q for field %q", ErrUnknownTransform, tn, field))
				continue
			}
			chain = append(chain, fn)
		}
		if len(chain) > 0 {
			fm.Transform = compose(chain)
		}

		if !rule.Validate.empty() {
			v, err := validator(field, rule.Validate)
			if err != nil {
				errs = append(errs, err)
			} else {
				fm.Validate = v
			}
		}
		out[field] = fm
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func compose(chain []TransformFunc) func(any) (any, error) {
	return func(v any) (any, error) {
		var err error
		for _, fn := range chain {
			if v, err = fn(v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

func validator(field string, v Validation) (func(any) string, error) {
	var re *regexp.Regexp
	if v.Pattern != "" {
		var err error
		if re, err = regexp.Compile(v.Pattern); err != nil {
			return nil, fmt.Errorf("mapping: field %q: pattern: %w", field, err)
		}
	}
	if v.MinLength > 0 && v.MaxLength > 0 && v.MinLength > v.MaxLength {
		return nil, fmt.Errorf("mapping: field %q: min_length %d exceeds max_length %d", field, v.MinLength, v.MaxLength)
	}

	fail := func(msg string) string {
		if v.Message != "" {
			return v.Message
		}
		return msg
	}

	return func(value any) string {
		s := stringOf(value)
		if strings.TrimSpace(s) == "" {
			if v.Required {
				return fail(field + " is required")
			}
			return ""
		}
		if re != nil && !re.MatchString(s) {
			return fail(field + " has an invalid format")
		}
		if len(v.OneOf) > 0 && !slices.Contains(v.OneOf, s) {
			return fail(field + " must be one of " + strings.Join(v.OneOf, ", "))
		}
		n := len([]rune(s))
		if v.MinLength > 0 && n < v.MinLength {
			return fail(fmt.Sprintf("%s must be at least %d characters", field, v.MinLength))
		}
		if v.MaxLength > 0 && n > v.MaxLength {
			return fail(fmt.Sprintf("%s must be at most %d characters", field, v.MaxLength))
		}
		return ""
	}, nil
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func stringTransform(fn func(string) string) TransformFunc {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected text, got %T", v)
		}
		return fn(s), nil
	}
}

func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func dateISO(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected text, got %T", v)
	}
	t, err := form.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return t.Format("2006-01-02"), nil
}

func phoneE164US(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected text, got %T", v)
	}
	d := digits(s)
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return nil, fmt.Errorf("%q is not a 10-digit US phone number", s)
	}
	return "+1" + d, nil
}
