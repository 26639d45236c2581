package schema

import (
	"github.com/geobridge/geobridge/pkg/errors"
)

// ResolveOptions selects the schema source. Exactly one of Name and
// InlineSpec should be usable; Name takes precedence when both are set.
type ResolveOptions struct {
	// Name looks the schema up in the registry
	Name string
	// InlineSpec declares the schema inline
	InlineSpec string
	// TypeNameOverride renames the resolved schema
	TypeNameOverride string
}

// Resolve produces the one canonical schema for a processor lifetime. It is
// pure apart from the registry lookup: no connection is opened and nothing
// is registered as a side effect.
func Resolve(reg *Registry, opts ResolveOptions) (*Schema, error) {
	switch {
	case opts.Name != "":
		s, err := reg.Get(opts.Name)
		if err != nil {
			return nil, err
		}
		if opts.TypeNameOverride != "" && opts.TypeNameOverride != s.Name {
			return s.WithName(opts.TypeNameOverride), nil
		}
		return s, nil

	case opts.InlineSpec != "":
		return ParseSpec(opts.InlineSpec, opts.TypeNameOverride)

	default:
		return nil, errors.New(errors.ErrorTypeConfig, "no schema source: registry name and inline spec are both empty")
	}
}
