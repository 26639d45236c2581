package convert

import (
	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/schema"
)

// ResolveOptions selects the converter configuration source. Exactly one of
// Name and InlineSpec should be usable; Name takes precedence when both are
// set.
type ResolveOptions struct {
	// Name looks the configuration up in the registry
	Name string
	// InlineSpec declares the configuration inline as JSON
	InlineSpec string
}

// ResolveConfig produces the converter configuration for a processor
// lifetime.
func ResolveConfig(reg *Registry, opts ResolveOptions) (*Config, error) {
	switch {
	case opts.Name != "":
		return reg.GetConfig(opts.Name)
	case opts.InlineSpec != "":
		return ParseConfig(opts.InlineSpec)
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "no converter source: registry name and inline spec are both empty")
	}
}

// Resolve resolves the configuration and builds the live converter bound to
// the schema. Runs once at startup; any failure aborts initialization.
func Resolve(reg *Registry, opts ResolveOptions, s *schema.Schema) (Converter, error) {
	cfg, err := ResolveConfig(reg, opts)
	if err != nil {
		return nil, err
	}
	return reg.Build(s, cfg)
}
