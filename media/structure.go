package media

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Structure is a named set of typed fields.
type Structure struct {
	Name   string
	Fields map[string]any
}

// NewStructure returns a structure with a copy of fields.
func NewStructure(name string, fields map[string]any) *Structure {
	f := make(map[string]any, len(fields))
	maps.Copy(f, fields)
	return &Structure{Name: name, Fields: f}
}

// Has reports whether the field is present.
func (s *Structure) Has(field string) bool {
	_, ok := s.Fields[field]
	return ok
}

// Float returns a numeric field as float64.
func (s *Structure) Float(field string) (float64, bool) {
	return toFloat(s.Fields[field])
}

// Floats returns a numeric list field.
func (s *Structure) Floats(field string) ([]float64, bool) {
	switch v := s.Fields[field].(type) {
	case []float64:
		return v, true
	case []any:
		out := make([]float64, 0, len(v))
		for _, x := range v {
			f, ok := toFloat(x)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}

// String returns a field formatted as a string.
func (s *Structure) String(field string) string {
	v, ok := s.Fields[field]
	if !ok {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Int returns a numeric field as int64.
func (s *Structure) Int(field string) (int64, bool) {
	f, ok := toFloat(s.Fields[field])
	return int64(f), ok
}

// Format renders the structure as "name, key=value, ...", keys sorted.
func (s *Structure) Format() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, k := range slices.Sorted(maps.Keys(s.Fields)) {
		fmt.Fprintf(&b, ", %s=%v", k, s.Fields[k])
	}
	return b.String()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
