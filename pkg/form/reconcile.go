package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// FieldMapping customises how one top-level field's resolved value is
// accepted.
type FieldMapping struct {
	// Transform rewrites the value before validation. A returned error is
	// recorded as a field error and the field is dropped.
	Transform func(value any) (any, error)

	// Validate returns a non-empty message to reject the (transformed) value.
	// When set it replaces Config.ValidateField for this field. A mapping
	// without Validate still goes through Config.ValidateField.
	Validate func(value any) string
}

// KeyMatcher is an optional last-resort lookup used when neither the exact
// name nor any [Variations] entry is present in the model output.
type KeyMatcher interface {
	// MatchKey returns the key in keys that best corresponds to name.
	MatchKey(name string, keys []string) (string, bool)
}

// Config tunes [Reconcile]. The zero value applies no transforms and no
// validation.
type Config struct {
	// FieldMappings is keyed by top-level field name.
	FieldMappings map[string]FieldMapping

	// ValidateField is consulted for fields whose mapping has no Validate
	// function. See [SchemaValidator] for the schema-driven implementation.
	ValidateField func(name string, value any) string

	// KeyMatcher enables fuzzy key fallback. Nil disables it.
	KeyMatcher KeyMatcher
}

var errNotObject = errors.New("response is not a JSON object")

// Reconcile parses raw as a JSON object and maps it onto schema.
//
// For each top-level field a value is resolved from, in order: the exact key,
// the field's children (group fields only), the name variations and finally
// cfg.KeyMatcher. Null or unmatched fields are skipped silently. Resolved
// values then pass through the field's mapping or cfg.ValidateField; rejected
// values land in [Result.Errors] instead of [Result.Data].
//
// When raw is not a JSON object Reconcile returns a failed result carrying a
// general error together with a [*ParseError].
func Reconcile(raw string, schema Schema, cfg Config) (Result, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return FailedResult(err.Error()), err
	}
	return Apply(obj, schema, cfg), nil
}

// Apply maps an already decoded object onto schema. It is the second half of
// [Reconcile] and never fails as a whole.
func Apply(obj map[string]any, schema Schema, cfg Config) Result {
	res := newResult()
	keys := sortedKeys(obj)

	for _, f := range schema.Fields {
		value := resolve(obj, keys, f, cfg.KeyMatcher)
		if value == nil {
			continue
		}

		mapping, hasMapping := cfg.FieldMappings[f.Name]
		if hasMapping && mapping.Transform != nil {
			v, err := transform(mapping.Transform, value)
			if err != nil {
				res.Errors[f.Name] = "Transform error: " + err.Error()
				continue
			}
			value = v
		}

		var msg string
		switch {
		case hasMapping && mapping.Validate != nil:
			msg = mapping.Validate(value)
		case cfg.ValidateField != nil:
			msg = cfg.ValidateField(f.Name, value)
		}
		if msg != "" {
			res.Errors[f.Name] = msg
			continue
		}

		res.Data[f.Name] = value
		res.UpdatedFields = append(res.UpdatedFields, f.Name)
	}
	return res
}

// transform runs fn and turns a panic into an error so that a misbehaving
// transform only affects its own field.
func transform(fn func(any) (any, error), v any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn(v)
}

// resolve finds the value for f in obj. A key that is present with a null
// value ends the search, exactly like an absent group.
func resolve(obj map[string]any, keys []string, f Field, matcher KeyMatcher) any {
	if v, ok := obj[f.Name]; ok {
		return v
	}

	if f.Group() {
		sub := make(map[string]any)
		for _, child := range f.Nested {
			if v := resolve(obj, keys, child, matcher); v != nil {
				sub[child.Name] = v
			}
		}
		if len(sub) == 0 {
			return nil
		}
		return sub
	}

	for _, alt := range Variations(f.Name) {
		if v, ok := obj[alt]; ok {
			return v
		}
	}

	if matcher != nil {
		if k, ok := matcher.MatchKey(f.Name, keys); ok {
			return obj[k]
		}
	}
	return nil
}

func parseObject(raw string) (map[string]any, error) {
	text := stripFence(raw)
	if text == "" {
		return nil, &ParseError{Err: errors.New("empty response")}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, &ParseError{Snippet: snippet(text), Err: err}
	}
	if obj == nil {
		return nil, &ParseError{Snippet: snippet(text), Err: errNotObject}
	}
	return obj, nil
}

// stripFence removes a surrounding markdown code fence such as ```json ... ```.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func snippet(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
