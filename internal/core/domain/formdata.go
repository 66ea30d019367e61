package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var ErrInvalidData = errors.New("invalid form data")

// FormData is one full snapshot of the form, shaped like decoded JSON:
// objects are map[string]any, arrays []any, numbers float64.
type FormData map[string]any

// ParseFormData decodes a JSON object snapshot. Anything other than a single
// JSON object (null included) is rejected with ErrInvalidData.
func ParseFormData(raw []byte) (FormData, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidData)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: snapshot must be a json object", ErrInvalidData)
	}
	return FormData(obj), nil
}

// Clone returns a deep copy so a stored snapshot never aliases caller state.
func (d FormData) Clone() FormData {
	if d == nil {
		return nil
	}
	return FormData(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case FormData:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Compact returns a deep copy without null object members. Null counts as
// absent everywhere in validation, so the stored and exported form of a
// snapshot drops them too. Null array items are kept.
func (d FormData) Compact() FormData {
	if d == nil {
		return nil
	}
	return FormData(compactValue(map[string]any(d)).(map[string]any))
}

func compactValue(v any) any {
	if obj, ok := AsObject(v); ok {
		out := make(map[string]any, len(obj))
		for k, val := range obj {
			if val == nil {
				continue
			}
			out[k] = compactValue(val)
		}
		return out
	}
	if items, ok := AsArray(v); ok {
		out := make([]any, len(items))
		for i, val := range items {
			out[i] = compactValue(val)
		}
		return out
	}
	return v
}

// Row is one element of the paysPourcentages array as seen by the aggregate
// check. Pourcentage is nil when the value is absent or not a finite number.
type Row struct {
	Pays        string   `json:"pays,omitempty"`
	Pourcentage *float64 `json:"pourcentage,omitempty"`
}

// Rows extracts the paysPourcentages rows. It returns nil when the field is
// absent or not an array; elements that are not objects become empty rows.
func (d FormData) Rows() []Row {
	items, ok := AsArray(d[FieldPaysPourcentages])
	if !ok {
		return nil
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		var row Row
		if obj, ok := AsObject(item); ok {
			row.Pays, _ = obj[FieldPays].(string)
			if n, ok := AsNumber(obj[FieldPourcentage]); ok {
				row.Pourcentage = &n
			}
		}
		rows = append(rows, row)
	}
	return rows
}

const NoDataMessage = "Aucune donnée disponible."

// Summary renders the read-only list of rows, one "pays: pourcentage%" line
// per row. ok is false when there is no row array to show.
func (d FormData) Summary() (lines []string, ok bool) {
	if _, isArray := AsArray(d[FieldPaysPourcentages]); !isArray {
		return nil, false
	}
	rows := d.Rows()
	lines = make([]string, 0, len(rows))
	for _, r := range rows {
		value := "?"
		if r.Pourcentage != nil {
			value = strconv.FormatFloat(*r.Pourcentage, 'f', -1, 64)
		}
		lines = append(lines, r.Pays+": "+value+"%")
	}
	return lines, true
}

// AsObject accepts the object shapes a snapshot may carry.
func AsObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case FormData:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

// AsArray accepts the array shapes a snapshot may carry.
func AsArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}

// AsNumber reports v as a finite float64. NaN and infinities are rejected.
func AsNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
