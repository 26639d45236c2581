package schema

import (
	"fmt"
	"strings"

	"github.com/geobridge/geobridge/pkg/errors"
)

// DefaultTypeName is used for inline specs with no type-name override.
const DefaultTypeName = "features"

// ParseSpec parses an inline schema specification of the form
//
//	field:type[,field:type...]
//
// into a Schema. Whitespace around fields is tolerated. A trailing "?" on
// the type marks the field nullable, e.g. "note:string?". The schema is
// named typeName, or DefaultTypeName when typeName is empty.
func ParseSpec(spec, typeName string) (*Schema, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "inline schema spec is empty")
	}

	if typeName == "" {
		typeName = DefaultTypeName
	}

	parts := strings.Split(spec, ",")
	fields := make([]Field, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "inline schema spec %q has an empty field entry", spec)
		}

		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "inline schema field %q is not name:type", part)
		}

		name = strings.TrimSpace(name)
		typ = strings.TrimSpace(typ)

		nullable := false
		if strings.HasSuffix(typ, "?") {
			nullable = true
			typ = strings.TrimSuffix(typ, "?")
		}

		fields = append(fields, Field{
			Name:     name,
			Type:     FieldType(strings.ToLower(typ)),
			Nullable: nullable,
		})
	}

	s := &Schema{
		Name:   typeName,
		Fields: fields,
	}

	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid inline schema spec %q", spec))
	}

	return s, nil
}
