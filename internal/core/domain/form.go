package domain

import "fmt"

const (
	FieldNom              = "nom"
	FieldPaysPourcentages = "paysPourcentages"
	FieldPays             = "pays"
	FieldPourcentage      = "pourcentage"
)

// Countries is the closed list offered for the pays field.
var Countries = []string{"France", "Belgique", "Allemagne", "Portugal", "Autre"}

// DefaultFormSchema describes a name plus a list of country/percentage rows.
func DefaultFormSchema() (*FormSchema, error) {
	row := ObjectField("", []*FieldSpec{
		EnumField(FieldPays, Countries),
		NumberField(FieldPourcentage, WithMinimum(0), WithMaximum(100)),
	}, WithRequired(FieldPays, FieldPourcentage))

	root := ObjectField("", []*FieldSpec{
		StringField(FieldNom, WithTitle("Nom")),
		ArrayField(FieldPaysPourcentages, row, WithTitle("Pays et Pourcentages")),
	}, WithRequired(FieldNom, FieldPaysPourcentages))

	return NewFormSchema(root)
}

// CheckFormShape verifies that schema carries the fields the aggregate rule and
// the summary read: a required string nom and a required paysPourcentages
// array whose rows declare a number pourcentage and, if present, a textual
// pays. Any other field may be added around them.
func CheckFormShape(s *FormSchema) error {
	if s == nil {
		return &SchemaError{Reason: "schema is nil"}
	}
	root := s.Root()
	index := s.Index()

	rowsPath := FieldPaysPourcentages + "[]"
	checks := []struct {
		path     string
		kinds    []Kind
		required bool
		optional bool
	}{
		{path: FieldNom, kinds: []Kind{KindString}, required: true},
		{path: FieldPaysPourcentages, kinds: []Kind{KindArray}, required: true},
		{path: rowsPath, kinds: []Kind{KindObject}},
		{path: JoinPath(rowsPath, FieldPourcentage), kinds: []Kind{KindNumber}},
		{path: JoinPath(rowsPath, FieldPays), kinds: []Kind{KindString, KindEnum}, optional: true},
	}
	for _, c := range checks {
		spec, ok := index[c.path]
		if !ok {
			if c.optional {
				continue
			}
			return &SchemaError{Path: c.path, Reason: "field is missing"}
		}
		if !kindIn(spec.Kind(), c.kinds) {
			return &SchemaError{Path: c.path, Reason: fmt.Sprintf("must be %s, got %s", c.kinds[0], spec.Kind())}
		}
		if c.required && !root.IsRequired(c.path) {
			return &SchemaError{Path: c.path, Reason: "must be required"}
		}
	}
	return nil
}

func kindIn(k Kind, kinds []Kind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
