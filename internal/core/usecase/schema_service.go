package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

type SchemaFormat string

const (
	SchemaFormatJSON SchemaFormat = "json"
	SchemaFormatYAML SchemaFormat = "yaml"
)

// SchemaService holds the process-wide FormSchema together with its JSON
// Schema rendition, compiled once so external tooling and the final
// submission gate see the same document.
type SchemaService struct {
	schema   *domain.FormSchema
	document json.RawMessage
	compiled *santhosh.Schema
}

// NewSchemaService exports schema as JSON Schema and compiles it. A failure
// here is fatal: the service must not accept edits with a schema that does
// not round-trip.
func NewSchemaService(schema *domain.FormSchema) (*SchemaService, error) {
	if err := domain.CheckFormShape(schema); err != nil {
		return nil, err
	}
	doc, err := schema.JSONSchema()
	if err != nil {
		return nil, fmt.Errorf("export json schema: %w", err)
	}
	compiled, err := compileSchema(doc)
	if err != nil {
		return nil, fmt.Errorf("compile exported schema: %w", err)
	}
	return &SchemaService{schema: schema, document: doc, compiled: compiled}, nil
}

func (s *SchemaService) Schema() *domain.FormSchema {
	return s.schema
}

// Document returns the Draft 7 JSON Schema document.
func (s *SchemaService) Document() json.RawMessage {
	return append(json.RawMessage(nil), s.document...)
}

// ValidateDocument checks data against the compiled JSON Schema. Null members
// are dropped first, as the structural check treats them as absent. Returns
// *domain.ErrSchemaViolation on failure.
func (s *SchemaService) ValidateDocument(data domain.FormData) error {
	raw, err := json.Marshal(data.Compact())
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	return runValidation(s.compiled, raw)
}

// LoadFormSchema parses a JSON or YAML JSON Schema document into a FormSchema.
// The document must compile as JSON Schema and describe the nom and
// paysPourcentages fields before it is accepted.
func LoadFormSchema(raw []byte, format SchemaFormat) (*domain.FormSchema, error) {
	doc := raw
	if format == SchemaFormatYAML {
		converted, err := yamlToJSON(raw)
		if err != nil {
			return nil, &domain.SchemaError{Reason: fmt.Sprintf("convert yaml: %v", err)}
		}
		doc = converted
	}
	if !json.Valid(doc) {
		return nil, &domain.SchemaError{Reason: "schema must be valid json"}
	}
	if err := compilable(doc); err != nil {
		return nil, &domain.SchemaError{Reason: fmt.Sprintf("invalid json schema: %v", err)}
	}
	schema, err := domain.ParseJSONSchema(doc)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckFormShape(schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// yamlToJSON re-encodes a YAML document as JSON keeping mapping keys in
// document order, which a map[string]any round trip would sort.
func yamlToJSON(raw []byte) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeYAMLNode(&buf, &root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeYAMLNode(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeYAMLNode(buf, n.Content[0])
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeYAMLNode(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeYAMLNode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.AliasNode:
		return writeYAMLNode(buf, n.Alias)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(encoded)
	default:
		buf.WriteString("null")
	}
	return nil
}

// LoadFormSchemaFile reads path, choosing YAML for .yaml/.yml extensions.
func LoadFormSchemaFile(path string) (*domain.FormSchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	format := SchemaFormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = SchemaFormatYAML
	}
	schema, err := LoadFormSchema(raw, format)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", path, err)
	}
	return schema, nil
}

// compileSchema builds a *santhosh.Schema from raw JSON.
func compileSchema(schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func compilable(schemaJSON []byte) error {
	_, err := compileSchema(schemaJSON)
	return err
}

// runValidation validates data against a pre-compiled schema.
func runValidation(sch *santhosh.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.ErrSchemaViolation{Errors: collectValidationErrors(ve)}
		}
		return &domain.ErrSchemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
