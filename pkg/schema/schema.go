// Package schema defines the canonical record shape used across the bridge:
// a named, ordered list of typed fields. Schemas are resolved once at
// processor startup, from the registry or from an inline specification, and
// are immutable afterward.
package schema

import (
	"fmt"
	"strings"
)

// FieldType defines the data type of a schema field
type FieldType string

const (
	// FieldTypeString represents text data
	FieldTypeString FieldType = "string"
	// FieldTypeInt represents integer numbers
	FieldTypeInt FieldType = "int"
	// FieldTypeFloat represents floating point numbers
	FieldTypeFloat FieldType = "float"
	// FieldTypeBool represents boolean values
	FieldTypeBool FieldType = "bool"
	// FieldTypeTimestamp represents date and time values
	FieldTypeTimestamp FieldType = "timestamp"
	// FieldTypeDate represents date-only values
	FieldTypeDate FieldType = "date"
	// FieldTypePoint represents a lon/lat point geometry
	FieldTypePoint FieldType = "point"
	// FieldTypeJSON represents arbitrary structured data
	FieldTypeJSON FieldType = "json"
	// FieldTypeBinary represents raw byte data
	FieldTypeBinary FieldType = "binary"
)

// knownFieldTypes is the set of types the inline spec grammar accepts.
var knownFieldTypes = map[FieldType]bool{
	FieldTypeString:    true,
	FieldTypeInt:       true,
	FieldTypeFloat:     true,
	FieldTypeBool:      true,
	FieldTypeTimestamp: true,
	FieldTypeDate:      true,
	FieldTypePoint:     true,
	FieldTypeJSON:      true,
	FieldTypeBinary:    true,
}

// Field represents a single field in a schema
type Field struct {
	// Name is the field identifier
	Name string `json:"name" yaml:"name"`
	// Type is the field data type
	Type FieldType `json:"type" yaml:"type"`
	// Nullable indicates whether the field accepts null values
	Nullable bool `json:"nullable" yaml:"nullable"`
}

// Schema is the canonical record shape: identity is the type name, field
// order is significant and drives positional record values.
type Schema struct {
	// Name is the type name records are registered under in the backend
	Name string `json:"name" yaml:"name"`
	// Fields lists the typed attributes in order
	Fields []Field `json:"fields" yaml:"fields"`
}

// Validate checks structural soundness: a name, at least one field, no
// duplicate or unnamed fields, only known types.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q has no fields", s.Name)
	}

	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q field %d has no name", s.Name, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q has duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		if !knownFieldTypes[f.Type] {
			return fmt.Errorf("schema %q field %q has unknown type %q", s.Name, f.Name, f.Type)
		}
	}
	return nil
}

// Fingerprint returns a stable identity string for compatibility checks:
// two schemas with the same fingerprint have the same name, field order,
// field names and field types.
func (s *Schema) Fingerprint() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, f := range s.Fields {
		b.WriteByte('|')
		b.WriteString(f.Name)
		b.WriteByte(':')
		b.WriteString(string(f.Type))
		if f.Nullable {
			b.WriteString("?")
		}
	}
	return b.String()
}

// FieldIndex returns the position of the named field, or -1.
func (s *Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldNames returns the field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// WithName returns a copy of the schema under a different type name.
// The receiver is left untouched; resolved schemas never mutate.
func (s *Schema) WithName(name string) *Schema {
	clone := &Schema{
		Name:   name,
		Fields: make([]Field, len(s.Fields)),
	}
	copy(clone.Fields, s.Fields)
	return clone
}

// String renders the schema in inline-spec form.
func (s *Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Name + ":" + string(f.Type)
	}
	return fmt.Sprintf("%s(%s)", s.Name, strings.Join(parts, ","))
}
