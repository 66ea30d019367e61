package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidSchema is matched by every *SchemaError.
var ErrInvalidSchema = errors.New("invalid schema")

// SchemaError reports an ill-formed FormSchema. It is only produced while a
// schema is being constructed, never while data is validated.
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid schema: %s", e.Reason)
	}
	return fmt.Sprintf("invalid schema at %s: %s", e.Path, e.Reason)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindEnum
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindEnum:
		return "enum"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FieldSpec is one node of the schema tree. Only the constraints belonging to
// its Kind are populated; values are built with the *Field constructors and are
// not mutated afterwards.
type FieldSpec struct {
	name  string
	kind  Kind
	title string

	enum []string

	minimum *float64
	maximum *float64

	elem *FieldSpec

	fields   []*FieldSpec
	required []string
}

type FieldOption func(*FieldSpec)

func WithTitle(title string) FieldOption {
	return func(f *FieldSpec) { f.title = title }
}

func WithMinimum(v float64) FieldOption {
	return func(f *FieldSpec) { f.minimum = &v }
}

func WithMaximum(v float64) FieldOption {
	return func(f *FieldSpec) { f.maximum = &v }
}

// WithRequired marks child fields of an object as required.
func WithRequired(names ...string) FieldOption {
	return func(f *FieldSpec) { f.required = append(f.required, names...) }
}

func StringField(name string, opts ...FieldOption) *FieldSpec {
	return newField(name, KindString, opts)
}

func NumberField(name string, opts ...FieldOption) *FieldSpec {
	return newField(name, KindNumber, opts)
}

func EnumField(name string, values []string, opts ...FieldOption) *FieldSpec {
	f := newField(name, KindEnum, opts)
	f.enum = append([]string(nil), values...)
	return f
}

// ArrayField declares an ordered sequence whose elements all conform to elem.
// The element's own name is ignored.
func ArrayField(name string, elem *FieldSpec, opts ...FieldOption) *FieldSpec {
	f := newField(name, KindArray, opts)
	f.elem = elem
	return f
}

func ObjectField(name string, fields []*FieldSpec, opts ...FieldOption) *FieldSpec {
	f := newField(name, KindObject, opts)
	f.fields = append([]*FieldSpec(nil), fields...)
	return f
}

func newField(name string, kind Kind, opts []FieldOption) *FieldSpec {
	f := &FieldSpec{name: name, kind: kind}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FieldSpec) Name() string  { return f.name }
func (f *FieldSpec) Kind() Kind    { return f.kind }
func (f *FieldSpec) Title() string { return f.title }

func (f *FieldSpec) Enum() []string {
	return append([]string(nil), f.enum...)
}

func (f *FieldSpec) Minimum() (float64, bool) {
	if f.minimum == nil {
		return 0, false
	}
	return *f.minimum, true
}

func (f *FieldSpec) Maximum() (float64, bool) {
	if f.maximum == nil {
		return 0, false
	}
	return *f.maximum, true
}

func (f *FieldSpec) Elem() *FieldSpec { return f.elem }

func (f *FieldSpec) Fields() []*FieldSpec {
	return append([]*FieldSpec(nil), f.fields...)
}

func (f *FieldSpec) Required() []string {
	return append([]string(nil), f.required...)
}

func (f *FieldSpec) IsRequired(name string) bool {
	for _, r := range f.required {
		if r == name {
			return true
		}
	}
	return false
}

func (f *FieldSpec) Field(name string) (*FieldSpec, bool) {
	for _, child := range f.fields {
		if child.name == name {
			return child, true
		}
	}
	return nil, false
}

// Allows reports whether value is one of the enum's members.
func (f *FieldSpec) Allows(value string) bool {
	for _, v := range f.enum {
		if v == value {
			return true
		}
	}
	return false
}

// FormSchema is the validated, immutable root of a form description.
type FormSchema struct {
	root *FieldSpec
}

// NewFormSchema checks that root is a well-formed object tree.
func NewFormSchema(root *FieldSpec) (*FormSchema, error) {
	if root == nil {
		return nil, &SchemaError{Reason: "root field spec is nil"}
	}
	if root.kind != KindObject {
		return nil, &SchemaError{Reason: fmt.Sprintf("root must be an object, got %s", root.kind)}
	}
	if err := checkField(root, ""); err != nil {
		return nil, err
	}
	return &FormSchema{root: root}, nil
}

func (s *FormSchema) Root() *FieldSpec { return s.root }

// Walk visits every FieldSpec depth-first in declaration order. The root is
// visited with an empty path and array elements carry a "[]" suffix.
func (s *FormSchema) Walk(fn func(path string, spec *FieldSpec) error) error {
	return walk(s.root, "", fn)
}

// Index maps every Walk path to its FieldSpec. Array elements are keyed with
// the "[]" suffix, so "paysPourcentages[].pays" names the pays field of any row.
func (s *FormSchema) Index() map[string]*FieldSpec {
	index := make(map[string]*FieldSpec)
	_ = s.Walk(func(path string, spec *FieldSpec) error {
		index[path] = spec
		return nil
	})
	return index
}

func walk(f *FieldSpec, path string, fn func(string, *FieldSpec) error) error {
	if err := fn(path, f); err != nil {
		return err
	}
	switch f.kind {
	case KindObject:
		for _, child := range f.fields {
			if err := walk(child, JoinPath(path, child.name), fn); err != nil {
				return err
			}
		}
	case KindArray:
		if f.elem != nil {
			return walk(f.elem, path+"[]", fn)
		}
	}
	return nil
}

func checkField(f *FieldSpec, path string) error {
	if f == nil {
		return &SchemaError{Path: path, Reason: "field spec is nil"}
	}
	switch f.kind {
	case KindString:
	case KindNumber:
		if f.minimum != nil && f.maximum != nil && *f.minimum > *f.maximum {
			return &SchemaError{Path: path, Reason: fmt.Sprintf("minimum %v exceeds maximum %v", *f.minimum, *f.maximum)}
		}
	case KindEnum:
		if len(f.enum) == 0 {
			return &SchemaError{Path: path, Reason: "enum has no allowed values"}
		}
	case KindArray:
		if f.elem == nil {
			return &SchemaError{Path: path, Reason: "array has no element spec"}
		}
		return checkField(f.elem, path+"[]")
	case KindObject:
		seen := make(map[string]struct{}, len(f.fields))
		for _, child := range f.fields {
			if child == nil {
				return &SchemaError{Path: path, Reason: "object declares a nil field"}
			}
			if child.name == "" {
				return &SchemaError{Path: path, Reason: "object declares a field without a name"}
			}
			if _, dup := seen[child.name]; dup {
				return &SchemaError{Path: path, Reason: fmt.Sprintf("duplicate field %q", child.name)}
			}
			seen[child.name] = struct{}{}
		}
		for _, name := range f.required {
			if _, ok := seen[name]; !ok {
				return &SchemaError{Path: path, Reason: fmt.Sprintf("required field %q is not declared", name)}
			}
		}
		for _, child := range f.fields {
			if err := checkField(child, JoinPath(path, child.name)); err != nil {
				return err
			}
		}
	default:
		return &SchemaError{Path: path, Reason: fmt.Sprintf("unknown kind %s", f.kind)}
	}
	return nil
}

// JoinPath appends a field name to a dotted path.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// IndexPath appends an array index to a path.
func IndexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}
