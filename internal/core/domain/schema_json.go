package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const jsonSchemaDraft7 = "http://json-schema.org/draft-07/schema#"

// JSONSchema encodes the schema as a Draft 7 JSON Schema document. Object
// properties keep their declaration order.
func (s *FormSchema) JSONSchema() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeNode(&buf, s.root, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, f *FieldSpec, root bool) error {
	w := objectWriter{buf: buf}
	buf.WriteByte('{')
	if root {
		w.member("$schema", jsonSchemaDraft7)
	}
	switch f.kind {
	case KindString, KindEnum:
		w.member("type", "string")
	default:
		w.member("type", f.kind.String())
	}
	if f.title != "" {
		w.member("title", f.title)
	}
	switch f.kind {
	case KindEnum:
		w.member("enum", f.enum)
	case KindNumber:
		if f.minimum != nil {
			w.member("minimum", *f.minimum)
		}
		if f.maximum != nil {
			w.member("maximum", *f.maximum)
		}
	case KindArray:
		w.key("items")
		if err := writeNode(buf, f.elem, false); err != nil {
			return err
		}
	case KindObject:
		w.key("properties")
		buf.WriteByte('{')
		props := objectWriter{buf: buf}
		for _, child := range f.fields {
			props.key(child.name)
			if err := writeNode(buf, child, false); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		if len(f.required) > 0 {
			w.member("required", f.required)
		}
	}
	buf.WriteByte('}')
	return w.err
}

type objectWriter struct {
	buf   *bytes.Buffer
	count int
	err   error
}

func (w *objectWriter) key(name string) {
	if w.count > 0 {
		w.buf.WriteByte(',')
	}
	w.count++
	encoded, _ := json.Marshal(name)
	w.buf.Write(encoded)
	w.buf.WriteByte(':')
}

func (w *objectWriter) member(name string, value any) {
	w.key(name)
	encoded, err := json.Marshal(value)
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("encode %s: %w", name, err)
	}
	w.buf.Write(encoded)
}

// ParseJSONSchema builds a FormSchema from the subset of JSON Schema that
// FieldSpec can express: type, title, enum, minimum, maximum, properties,
// required and items. Other keywords are ignored. "integer" maps to KindNumber.
func ParseJSONSchema(raw []byte) (*FormSchema, error) {
	root, err := parseNode("", raw, "")
	if err != nil {
		return nil, err
	}
	return NewFormSchema(root)
}

type jsonSchemaNode struct {
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Enum     []any           `json:"enum"`
	Minimum  *float64        `json:"minimum"`
	Maximum  *float64        `json:"maximum"`
	Required []string        `json:"required"`
	Items    json.RawMessage `json:"items"`
}

func parseNode(name string, raw []byte, path string) (*FieldSpec, error) {
	var node jsonSchemaNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, &SchemaError{Path: path, Reason: fmt.Sprintf("decode node: %v", err)}
	}

	var opts []FieldOption
	if node.Title != "" {
		opts = append(opts, WithTitle(node.Title))
	}

	if len(node.Enum) > 0 {
		values := make([]string, 0, len(node.Enum))
		for _, v := range node.Enum {
			s, ok := v.(string)
			if !ok {
				return nil, &SchemaError{Path: path, Reason: "enum values must be strings"}
			}
			values = append(values, s)
		}
		if node.Type != "" && node.Type != "string" {
			return nil, &SchemaError{Path: path, Reason: fmt.Sprintf("enum is only supported on strings, got %q", node.Type)}
		}
		return EnumField(name, values, opts...), nil
	}

	switch node.Type {
	case "string":
		return StringField(name, opts...), nil
	case "number", "integer":
		if node.Minimum != nil {
			opts = append(opts, WithMinimum(*node.Minimum))
		}
		if node.Maximum != nil {
			opts = append(opts, WithMaximum(*node.Maximum))
		}
		return NumberField(name, opts...), nil
	case "array":
		if len(node.Items) == 0 {
			return nil, &SchemaError{Path: path, Reason: "array has no items"}
		}
		elem, err := parseNode("", node.Items, path+"[]")
		if err != nil {
			return nil, err
		}
		return ArrayField(name, elem, opts...), nil
	case "object":
		props, err := orderedProperties(raw)
		if err != nil {
			return nil, &SchemaError{Path: path, Reason: err.Error()}
		}
		fields := make([]*FieldSpec, 0, len(props))
		for _, p := range props {
			child, err := parseNode(p.name, p.raw, JoinPath(path, p.name))
			if err != nil {
				return nil, err
			}
			fields = append(fields, child)
		}
		if len(node.Required) > 0 {
			opts = append(opts, WithRequired(node.Required...))
		}
		return ObjectField(name, fields, opts...), nil
	case "":
		return nil, &SchemaError{Path: path, Reason: "missing type"}
	default:
		return nil, &SchemaError{Path: path, Reason: fmt.Sprintf("unsupported type %q", node.Type)}
	}
}

type property struct {
	name string
	raw  json.RawMessage
}

// orderedProperties returns the members of the "properties" keyword in the
// order they appear in the document.
func orderedProperties(raw []byte) ([]property, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, err
	}
	propsRaw, ok := outer["properties"]
	if !ok {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(propsRaw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("properties must be an object")
	}

	var out []property
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read property name: %w", err)
		}
		name, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("read property %q: %w", name, err)
		}
		out = append(out, property{name: name, raw: value})
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("close properties: %w", err)
	}
	return out, nil
}
