package form

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// North-American numbering only: optional +1, optional parentheses around
	// the area code, 3-3-4 grouping with optional separators.
	phoneRe = regexp.MustCompile(`^\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}$`)
)

// DateLayouts are the layouts accepted for date fields, tried in order.
var DateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// patternCache holds compiled field patterns keyed by source. A nil value
// marks a pattern that failed to compile.
var patternCache sync.Map

// Validate checks every top-level field of schema against data and returns a
// map of field name to error message. An empty map means data is valid.
func Validate(data map[string]any, schema Schema) map[string]string {
	errs := make(map[string]string)
	for _, f := range schema.Fields {
		if msg := ValidateField(f, data[f.Name]); msg != "" {
			errs[f.Name] = msg
		}
	}
	return errs
}

// SchemaValidator adapts [ValidateField] to the [Config.ValidateField]
// callback shape. Names that are not top-level fields of schema always pass.
func SchemaValidator(schema Schema) func(name string, value any) string {
	return func(name string, value any) string {
		f, ok := schema.Find(name)
		if !ok {
			return ""
		}
		return ValidateField(f, value)
	}
}

// ValidateField returns the validation message for value against f, or "" if
// value is acceptable.
//
// A failing required check short-circuits. The remaining checks run in order
// (type, minimum length, maximum length, pattern) and each failure overwrites
// the previous message, so only the last failing check is reported.
func ValidateField(f Field, value any) string {
	if f.Required && isBlank(value) {
		return f.DisplayName() + " is required"
	}
	if value == nil {
		return ""
	}

	if f.Group() {
		return validateGroup(f, value)
	}

	var msg string
	switch f.Type {
	case TypeEmail:
		if !emailRe.MatchString(stringify(value)) {
			msg = "Invalid email format"
		}
	case TypeTel:
		if s := stringify(value); s != "" && !phoneRe.MatchString(s) {
			msg = "Invalid phone number format"
		}
	case TypeDate:
		if s := stringify(value); s != "" && !validDate(s, time.Now()) {
			msg = "Invalid date format"
		}
	case TypeNumber:
		if !numeric(value) {
			msg = "Must be a valid number"
		}
	}

	if s, ok := value.(string); ok {
		n := utf8.RuneCountInString(s)
		if f.MinLength > 0 && n < f.MinLength {
			msg = fmt.Sprintf("Must be at least %d characters", f.MinLength)
		}
		if f.MaxLength > 0 && n > f.MaxLength {
			msg = fmt.Sprintf("Must be no more than %d characters", f.MaxLength)
		}
		if f.Pattern != "" {
			if re := compilePattern(f.Pattern); re != nil && !re.MatchString(s) {
				msg = "Invalid format"
			}
		}
	}
	return msg
}

// validateGroup checks the children present in a group value. Children that
// are absent are skipped so that partially filled groups survive.
func validateGroup(f Field, value any) string {
	obj, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	for _, child := range f.Nested {
		v, present := obj[child.Name]
		if !present || v == nil {
			continue
		}
		if msg := ValidateField(child, v); msg != "" {
			return child.DisplayName() + ": " + msg
		}
	}
	return ""
}

// isBlank mirrors loose falsiness: nil, false, zero, empty or whitespace-only
// strings are all blank.
func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	case float64:
		return x == 0 || math.IsNaN(x)
	case int:
		return x == 0
	case int64:
		return x == 0
	case json.Number:
		f, err := x.Float64()
		return err == nil && f == 0
	}
	return false
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func numeric(v any) bool {
	switch x := v.(type) {
	case float64:
		return !math.IsNaN(x)
	case float32, int, int32, int64, uint, uint32, uint64, bool:
		return true
	case json.Number:
		_, err := x.Float64()
		return err == nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return true
		}
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && !math.IsNaN(f)
	}
	return false
}

// validDate reports whether s parses under one of [DateLayouts] and does not
// lie after now.
func validDate(s string, now time.Time) bool {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return !t.After(now)
	}
	return false
}

// ParseDate parses s with [DateLayouts].
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("form: unrecognised date %q", s)
}

func compilePattern(p string) *regexp.Regexp {
	if v, ok := patternCache.Load(p); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(p)
	if err != nil {
		re = nil
	}
	patternCache.Store(p, re)
	return re
}
