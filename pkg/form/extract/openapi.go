package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/MrWong99/voxfill/pkg/form"
)

// requestMediaTypes are tried in order when picking a request body schema.
var requestMediaTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
}

// FromOpenAPI builds a schema from the request body of the operation at
// method and path in an OpenAPI 3 document. Object properties become fields
// in lexical order, nested objects become group fields and string enums
// become select fields.
func FromOpenAPI(ctx context.Context, doc []byte, path, method string) (form.Schema, error) {
	loader := &openapi3.Loader{Context: ctx}
	spec, err := loader.LoadFromData(doc)
	if err != nil {
		return form.Schema{}, fmt.Errorf("extract: load openapi document: %w", err)
	}
	if spec.Paths == nil {
		return form.Schema{}, errors.New("extract: openapi document has no paths")
	}
	item := spec.Paths.Value(path)
	if item == nil {
		return form.Schema{}, fmt.Errorf("extract: openapi path %q not found", path)
	}
	op := item.GetOperation(strings.ToUpper(method))
	if op == nil {
		return form.Schema{}, fmt.Errorf("extract: openapi operation %s %s not found", strings.ToUpper(method), path)
	}
	body := requestSchema(op.RequestBody)
	if body == nil || !hasType(body, openapi3.TypeObject) && len(body.Properties) == 0 {
		return form.Schema{}, &form.SchemaError{
			Path:   path,
			Reason: "operation has no object request body",
			Err:    form.ErrEmptySchema,
		}
	}

	fields := objectFields(body, 0)
	name := op.Summary
	if name == "" {
		name = op.OperationID
	}
	if name == "" {
		name = defaultFormName
	}
	return form.Schema{
		Fields:      fields,
		FormName:    name,
		FormID:      op.OperationID,
		TotalFields: len(fields),
	}, nil
}

func requestSchema(ref *openapi3.RequestBodyRef) *openapi3.Schema {
	if ref == nil || ref.Value == nil {
		return nil
	}
	content := ref.Value.Content
	for _, mt := range requestMediaTypes {
		if m, ok := content[mt]; ok && m.Schema != nil {
			return m.Schema.Value
		}
	}
	return nil
}

func objectFields(s *openapi3.Schema, depth int) []form.Field {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	slices.Sort(names)

	fields := make([]form.Field, 0, len(names))
	for _, name := range names {
		ref := s.Properties[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		f := propertyField(name, ref.Value, depth)
		f.Required = slices.Contains(s.Required, name)
		fields = append(fields, f)
	}
	return fields
}

func propertyField(name string, p *openapi3.Schema, depth int) form.Field {
	f := form.Field{
		Name:        name,
		Type:        form.TypeText,
		Label:       p.Title,
		Placeholder: p.Description,
		Pattern:     p.Pattern,
		MinLength:   int(p.MinLength),
	}
	if p.MaxLength != nil {
		f.MaxLength = int(*p.MaxLength)
	}

	switch {
	case hasType(p, openapi3.TypeObject) && depth < DefaultMaxDepth:
		if children := objectFields(p, depth+1); len(children) > 0 {
			g := form.NewGroup(name, children...)
			g.Label = f.Label
			return g
		}
	case len(p.Enum) > 0:
		f.Type = form.TypeSelect
		for _, v := range p.Enum {
			f.Options = append(f.Options, fmt.Sprint(v))
		}
	case hasType(p, openapi3.TypeInteger), hasType(p, openapi3.TypeNumber):
		f.Type = form.TypeNumber
	case hasType(p, openapi3.TypeBoolean):
		f.Type = form.TypeCheckbox
	case p.Format == "email":
		f.Type = form.TypeEmail
	case p.Format == "date", p.Format == "date-time":
		f.Type = form.TypeDate
	case p.Format == "tel" || p.Format == "phone":
		f.Type = form.TypeTel
	}
	return f
}

func hasType(s *openapi3.Schema, t string) bool {
	return s.Type != nil && s.Type.Is(t)
}
