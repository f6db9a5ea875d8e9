// Package extract builds a [form.Schema] from a document tree.
//
// Controls (input, select, textarea) are enumerated in document order. Each
// control becomes a [form.Field]; radio and checkbox inputs sharing a name
// collapse into a single field whose options are the members' values.
//
// Grouping containers (fieldset, section, or a div whose class mentions
// "field" or "group") introduce nesting. A container that carries a name, id
// or legend and holds at least two distinct controls becomes a group field
// named after it, unless that name is already used by a sibling. Any other
// container folds its remaining controls into the first control's field. Recursion only descends into containers
// strictly inside the current scope, tracks visited containers and stops at a
// configurable depth.
package extract

import (
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/MrWong99/voxfill/pkg/form"
)

// DefaultMaxDepth bounds container recursion.
const DefaultMaxDepth = 16

// defaultFormName is used when a form has neither a name nor a heading.
const defaultFormName = "Form"

// Option configures an [Extractor].
type Option func(*Extractor)

// WithMaxDepth overrides [DefaultMaxDepth]. Values below 1 disable nesting.
func WithMaxDepth(n int) Option {
	return func(e *Extractor) { e.maxDepth = n }
}

// Extractor turns document trees into schemas. It holds no per-call state and
// is safe for concurrent use.
type Extractor struct {
	maxDepth int
}

// New returns an [Extractor] configured with opts.
func New(opts ...Option) *Extractor {
	e := &Extractor{maxDepth: DefaultMaxDepth}
	for _, o := range opts {
		o(e)
	}
	return e
}

// FromHTML parses r and extracts the dominant form with default settings.
func FromHTML(r io.Reader) (form.Schema, error) {
	root, err := ParseHTML(r)
	if err != nil {
		return form.Schema{}, err
	}
	return New().Detect(root)
}

// Detect locates every form below root, picks the one with the most controls
// (the first one wins ties) and extracts it. It returns a [*form.SchemaError]
// wrapping [form.ErrNoForm] when root holds no form.
func (e *Extractor) Detect(root Element) (form.Schema, error) {
	var forms []Element
	walk(root, func(el Element) bool {
		if el.Tag() == "form" {
			forms = append(forms, el)
			return false
		}
		return true
	})
	if len(forms) == 0 {
		return form.Schema{}, &form.SchemaError{Reason: "no form found", Err: form.ErrNoForm}
	}

	target, most := forms[0], -1
	for _, f := range forms {
		if n := len(controls(f)); n > most {
			target, most = f, n
		}
	}
	return e.Form(target), nil
}

// Form extracts the schema of a single form element.
func (e *Extractor) Form(el Element) form.Schema {
	fields := e.fields(el, "", 0, map[Element]bool{el: true})
	id, _ := el.Attr("id")
	return form.Schema{
		Fields:      fields,
		FormName:    formName(el),
		FormID:      id,
		TotalFields: len(fields),
	}
}

// fields extracts the fields in scope. exclude names a control that owns
// scope and must not reappear inside it.
func (e *Extractor) fields(scope Element, exclude string, depth int, visited map[Element]bool) []form.Field {
	fields := []form.Field{}
	processed := map[string]bool{}
	if exclude != "" {
		processed[exclude] = true
	}

	for _, ctl := range controls(scope) {
		name := controlName(ctl)
		if name == "" || processed[name] {
			continue
		}

		field := e.leaf(scope, ctl, name)

		if c, ok := e.container(scope, ctl, depth, visited); ok {
			visited[c] = true
			members := controlNames(c)
			switch groupName, label := containerName(c); {
			case groupName != "" && len(members) > 1 && !nameTaken(scope, groupName, members, processed):
				field = form.NewGroup(groupName, e.fields(c, "", depth+1, visited)...)
				field.Label = label
				if len(field.Nested) == 0 {
					field = e.leaf(scope, ctl, name)
				}
			default:
				if nested := e.fields(c, name, depth+1, visited); len(nested) > 0 {
					field.Nested = nested
					field.Type = form.TypeNested
					field.IsNested = true
				}
			}
			if field.Group() {
				for _, m := range members {
					processed[m] = true
				}
			}
		}

		fields = append(fields, field)
		processed[name] = true
	}
	return fields
}

// nameTaken reports whether a group called name would collide with a sibling:
// a field already extracted in scope, or a control in scope that is not one
// of the container's members.
func nameTaken(scope Element, name string, members []string, processed map[string]bool) bool {
	if processed[name] {
		return true
	}
	return slices.Contains(controlNames(scope), name) && !slices.Contains(members, name)
}

// leaf describes ctl as a plain field.
func (e *Extractor) leaf(scope, ctl Element, name string) form.Field {
	f := form.Field{
		Name:     name,
		Type:     controlType(ctl),
		Label:    labelFor(scope, ctl),
		Required: hasAttr(ctl, "required"),
	}
	f.Placeholder, _ = ctl.Attr("placeholder")
	f.Pattern, _ = ctl.Attr("pattern")
	f.MinLength = intAttr(ctl, "minlength")
	f.MaxLength = intAttr(ctl, "maxlength")

	switch {
	case ctl.Tag() == "select":
		f.Options = selectOptions(ctl)
	case f.Type == form.TypeRadio || f.Type == form.TypeCheckbox:
		if opts := groupOptions(scope, ctl); len(opts) > 1 {
			f.Options = opts
		}
	}
	return f
}

// container returns the nearest grouping ancestor of ctl that lies strictly
// inside scope and has not been visited.
func (e *Extractor) container(scope, ctl Element, depth int, visited map[Element]bool) (Element, bool) {
	if depth >= e.maxDepth {
		return nil, false
	}
	for p, ok := ctl.Parent(); ok; p, ok = p.Parent() {
		if p == scope {
			return nil, false
		}
		if isContainer(p) {
			if visited[p] {
				return nil, false
			}
			return p, true
		}
	}
	return nil, false
}

func isContainer(el Element) bool {
	switch el.Tag() {
	case "fieldset", "section":
		return true
	case "div":
		class, _ := el.Attr("class")
		return strings.Contains(class, "field") || strings.Contains(class, "group")
	}
	return false
}

// containerName returns the identifier and display label of a container:
// its name or id attribute, else its legend converted to lower camel case.
func containerName(c Element) (name, label string) {
	legend := ""
	for _, ch := range c.Children() {
		if ch.Tag() == "legend" {
			legend = strings.TrimSpace(ch.Text())
			break
		}
	}
	if v, ok := c.Attr("name"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), legend
	}
	if v, ok := c.Attr("id"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), legend
	}
	return lowerCamel(legend), legend
}

func formName(el Element) string {
	if v, ok := el.Attr("name"); ok && v != "" {
		return v
	}
	var heading string
	walk(el, func(n Element) bool {
		if heading != "" {
			return false
		}
		switch n.Tag() {
		case "h1", "h2", "h3", "legend":
			heading = strings.TrimSpace(n.Text())
			return false
		}
		return true
	})
	if heading != "" {
		return heading
	}
	return defaultFormName
}

func controls(scope Element) []Element {
	var out []Element
	walk(scope, func(el Element) bool {
		if el == scope {
			return true
		}
		switch el.Tag() {
		case "input", "select", "textarea":
			out = append(out, el)
			return false
		}
		return true
	})
	return out
}

func controlNames(scope Element) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range controls(scope) {
		if n := controlName(c); n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func controlName(ctl Element) string {
	if v, ok := ctl.Attr("name"); ok && v != "" {
		return v
	}
	v, _ := ctl.Attr("id")
	return v
}

func controlType(ctl Element) string {
	if ctl.Tag() != "input" {
		return ctl.Tag()
	}
	t, _ := ctl.Attr("type")
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return form.TypeText
	}
	return t
}

// labelFor finds label[for=id] inside scope, falling back to the nearest
// enclosing label element.
func labelFor(scope, ctl Element) string {
	if id, ok := ctl.Attr("id"); ok && id != "" {
		var found string
		walk(scope, func(el Element) bool {
			if found != "" {
				return false
			}
			if el.Tag() == "label" {
				if v, _ := el.Attr("for"); v == id {
					found = strings.TrimSpace(el.Text())
					return false
				}
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	for p, ok := ctl.Parent(); ok; p, ok = p.Parent() {
		if p.Tag() == "label" {
			return strings.TrimSpace(p.Text())
		}
	}
	return ""
}

func selectOptions(sel Element) []string {
	opts := []string{}
	walk(sel, func(el Element) bool {
		if el.Tag() == "option" {
			opts = append(opts, strings.TrimSpace(el.Text()))
			return false
		}
		return true
	})
	return opts
}

// groupOptions returns the value (or following element's text) of every input
// in scope sharing ctl's name attribute.
func groupOptions(scope, ctl Element) []string {
	name, ok := ctl.Attr("name")
	if !ok || name == "" {
		return nil
	}
	var opts []string
	for _, c := range controls(scope) {
		if c.Tag() != "input" {
			continue
		}
		if v, _ := c.Attr("name"); v != name {
			continue
		}
		if v, _ := c.Attr("value"); v != "" {
			opts = append(opts, v)
			continue
		}
		text := ""
		if sib, ok := c.NextSibling(); ok {
			text = strings.TrimSpace(sib.Text())
		}
		opts = append(opts, text)
	}
	return opts
}

func hasAttr(el Element, name string) bool {
	_, ok := el.Attr(name)
	return ok
}

func intAttr(el Element, name string) int {
	v, ok := el.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// walk visits el and its descendants depth-first in document order. fn
// returns false to skip an element's children.
func walk(el Element, fn func(Element) bool) {
	if !fn(el) {
		return
	}
	for _, c := range el.Children() {
		walk(c, fn)
	}
}

func lowerCamel(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i > 0 {
			r := []rune(w)
			r[0] = unicode.ToUpper(r[0])
			w = string(r)
		}
		b.WriteString(w)
	}
	return b.String()
}
