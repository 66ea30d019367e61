package usecase

import (
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

// ValidateStructure checks data against the schema and returns one error per
// offending path. Expected fields come from the schema's depth-first index, so
// errors come out in field declaration order, then array index order, and
// identical input always yields the same list. A field whose value is null
// counts as absent.
func ValidateStructure(schema *domain.FormSchema, data domain.FormData) domain.StructuralErrors {
	v := structuralPass{index: schema.Index(), errs: domain.StructuralErrors{}}
	v.object("", map[string]any(data), "")
	return v.errs
}

// structuralPass walks one snapshot. Schema paths use the "[]" element form
// of FormSchema.Walk; data paths carry concrete indexes.
type structuralPass struct {
	index map[string]*domain.FieldSpec
	errs  domain.StructuralErrors
}

func (v *structuralPass) object(schemaPath string, obj map[string]any, path string) {
	spec := v.index[schemaPath]
	for _, child := range spec.Fields() {
		childPath := domain.JoinPath(path, child.Name())
		value, present := obj[child.Name()]
		if !present || value == nil {
			if spec.IsRequired(child.Name()) {
				v.add(childPath, "is required")
			}
			continue
		}
		v.value(domain.JoinPath(schemaPath, child.Name()), value, childPath)
	}
}

func (v *structuralPass) value(schemaPath string, value any, path string) {
	spec := v.index[schemaPath]
	switch spec.Kind() {
	case domain.KindString:
		if _, ok := value.(string); !ok {
			v.add(path, "must be a string")
		}
	case domain.KindNumber:
		n, ok := domain.AsNumber(value)
		if !ok {
			v.add(path, "must be a number")
			return
		}
		if msg, ok := checkBounds(spec, n); !ok {
			v.add(path, msg)
		}
	case domain.KindEnum:
		s, ok := value.(string)
		if !ok || !spec.Allows(s) {
			v.add(path, "must be one of: "+strings.Join(spec.Enum(), ", "))
		}
	case domain.KindArray:
		items, ok := domain.AsArray(value)
		if !ok {
			v.add(path, "must be an array")
			return
		}
		for i, item := range items {
			v.value(schemaPath+"[]", item, domain.IndexPath(path, i))
		}
	case domain.KindObject:
		obj, ok := domain.AsObject(value)
		if !ok {
			v.add(path, "must be an object")
			return
		}
		v.object(schemaPath, obj, path)
	}
}

func (v *structuralPass) add(path, reason string) {
	v.errs = append(v.errs, domain.StructuralError{Path: path, Message: path + " " + reason})
}

func checkBounds(spec *domain.FieldSpec, n float64) (string, bool) {
	minimum, hasMin := spec.Minimum()
	maximum, hasMax := spec.Maximum()
	switch {
	case hasMin && hasMax:
		if n < minimum || n > maximum {
			return "must be between " + formatNumber(minimum) + " and " + formatNumber(maximum), false
		}
	case hasMin:
		if n < minimum {
			return "must be greater than or equal to " + formatNumber(minimum), false
		}
	case hasMax:
		if n > maximum {
			return "must be less than or equal to " + formatNumber(maximum), false
		}
	}
	return "", true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
