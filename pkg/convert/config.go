package convert

import (
	"fmt"
	"strconv"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/json"
)

// Config is an opaque converter configuration: the converter kind plus
// kind-specific options. Resolved once at startup and immutable afterward.
type Config struct {
	// Type names the converter kind (delimited, jsonl, avro)
	Type string `json:"type" yaml:"type"`
	// Options holds kind-specific settings
	Options map[string]interface{} `json:"options" yaml:"options"`
}

// ParseConfig parses an inline converter specification. The spec is a JSON
// object, e.g. {"type":"delimited","options":{"has_header":true}}.
func ParseConfig(spec string) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal([]byte(spec), cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("malformed inline converter spec %q", spec))
	}
	if cfg.Type == "" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "inline converter spec %q has no type", spec)
	}
	return cfg, nil
}

// StringOption returns a string option or the default.
func (c *Config) StringOption(key, def string) string {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// BoolOption returns a bool option or the default.
func (c *Config) BoolOption(key string, def bool) bool {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// IntOption returns an int option or the default. JSON numbers arrive as
// float64 or json.Number depending on the decode path; both are accepted.
func (c *Config) IntOption(key string, def int) int {
	v, ok := c.Options[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if parsed, err := n.Int64(); err == nil {
			return int(parsed)
		}
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}
