// Package config provides the unified configuration system for geobridge.
// It defines a single Config structure covering schema resolution, converter
// selection, sink connection parameters and the ambient concerns, organized
// into sections:
//
//   - Schema: where the target schema comes from (registry name or inline spec)
//   - Converter: where the converter configuration comes from
//   - Sink: storage backend selection and connection parameters
//   - Input: byte-stream handling for incoming units of work
//   - Logging, Metrics, Tracing: observability
//   - Timeouts: connection and request deadlines
//
// Example usage:
//
//	cfg := config.New()
//	cfg.Schema.InlineSpec = "id:string,ts:timestamp,geom:point"
//	cfg.Converter.Name = "obs-csv"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Config is the single configuration structure for a bridge processor.
type Config struct {
	// Name identifies the processor instance
	Name string `yaml:"name" json:"name"`

	// Schema selects the target schema source
	Schema SchemaConfig `yaml:"schema" json:"schema"`

	// Converter selects the converter configuration source
	Converter ConverterConfig `yaml:"converter" json:"converter"`

	// Sink holds storage backend selection and connection parameters
	Sink SinkConfig `yaml:"sink" json:"sink"`

	// Input controls byte-stream handling for units of work
	Input InputConfig `yaml:"input" json:"input"`

	// Logging configures the global logger
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics configures prometheus exposition
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Tracing configures OpenTelemetry spans per invocation
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`

	// Timeouts define connection and request deadlines
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`
}

// SchemaConfig identifies the schema source. Exactly one of Name and
// InlineSpec must be set; TypeNameOverride applies to inline specs only.
type SchemaConfig struct {
	// Name looks the schema up in the schema registry
	Name string `yaml:"name" json:"name"`
	// InlineSpec declares the schema inline, e.g. "id:string,ts:timestamp,geom:point"
	InlineSpec string `yaml:"inline_spec" json:"inline_spec"`
	// TypeNameOverride renames an inline-declared schema
	TypeNameOverride string `yaml:"type_name_override" json:"type_name_override"`
}

// ConverterConfig identifies the converter configuration source.
// Exactly one of Name and InlineSpec must be set.
type ConverterConfig struct {
	// Name looks the converter configuration up in the converter registry
	Name string `yaml:"name" json:"name"`
	// InlineSpec declares the converter configuration inline as JSON
	InlineSpec string `yaml:"inline_spec" json:"inline_spec"`
}

// SinkConfig holds storage backend selection and connection parameters.
type SinkConfig struct {
	// Backend names the registered sink backend (memory, postgres, kafka)
	Backend string `yaml:"backend" json:"backend"`
	// Endpoints lists backend addresses (brokers, hosts)
	Endpoints []string `yaml:"endpoints" json:"endpoints"`
	// Instance identifies the backend instance or cluster
	Instance string `yaml:"instance" json:"instance"`
	// Namespace is the catalog/database/topic-prefix records land under
	Namespace string `yaml:"namespace" json:"namespace"`
	// Credentials stores authentication material (use env vars in production)
	Credentials map[string]string `yaml:"credentials" json:"credentials"`

	// MaxConns caps pooled backend connections
	MaxConns int32 `yaml:"max_conns" json:"max_conns"`
	// MinConns keeps warm pooled backend connections
	MinConns int32 `yaml:"min_conns" json:"min_conns"`

	// ProducerAcks controls broker acknowledgement (all, 1, 0)
	ProducerAcks string `yaml:"producer_acks" json:"producer_acks"`
	// ProducerRetries sets produce retry attempts
	ProducerRetries int `yaml:"producer_retries" json:"producer_retries"`
	// ProducerCompression selects message compression (none, gzip, snappy, lz4, zstd)
	ProducerCompression string `yaml:"producer_compression" json:"producer_compression"`

	// EnableTLS enables TLS on backend connections
	EnableTLS bool `yaml:"enable_tls" json:"enable_tls"`
	// TLSSkipVerify disables certificate verification (insecure)
	TLSSkipVerify bool `yaml:"tls_skip_verify" json:"tls_skip_verify"`
}

// InputConfig controls byte-stream handling for incoming units of work.
type InputConfig struct {
	// Compression selects stream decompression: none, auto, gzip, snappy,
	// zstd, s2 or lz4. auto sniffs from the unit's filename attribute.
	Compression string `yaml:"compression" json:"compression"`
	// BufferSize sets the read buffer for input streams
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level sets logging verbosity (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`
	// Development switches to console encoding with colored levels
	Development bool `yaml:"development" json:"development"`
	// Encoding selects json or console output
	Encoding string `yaml:"encoding" json:"encoding"`
}

// MetricsConfig configures prometheus exposition.
type MetricsConfig struct {
	// Enabled starts the exposition endpoint
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Listen is the exposition address, e.g. ":9102"
	Listen string `yaml:"listen" json:"listen"`
}

// TracingConfig configures per-invocation tracing.
type TracingConfig struct {
	// Enabled installs a tracer provider at startup
	Enabled bool `yaml:"enabled" json:"enabled"`
	// SampleRate controls trace sampling (0.0-1.0)
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
}

// TimeoutConfig defines connection and request deadlines.
type TimeoutConfig struct {
	// Connection timeout for establishing backend connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Request timeout for individual backend operations
	Request time.Duration `yaml:"request" json:"request"`
}

// New creates a Config with production-ready defaults. Schema and converter
// sources are intentionally left empty: the caller must pick exactly one of
// each before Validate passes.
func New() *Config {
	return &Config{
		Name: "geobridge",
		Sink: SinkConfig{
			Backend:             "memory",
			Credentials:         make(map[string]string),
			MaxConns:            8,
			MinConns:            2,
			ProducerAcks:        "all",
			ProducerRetries:     3,
			ProducerCompression: "snappy",
		},
		Input: InputConfig{
			Compression: "auto",
			BufferSize:  64 * 1024,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9102",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 0.1,
		},
		Timeouts: TimeoutConfig{
			Connection: 10 * time.Second,
			Request:    30 * time.Second,
		},
	}
}

// Validate validates the configuration for correctness. It enforces the
// exactly-one-source contract for both the schema and the converter, and
// checks value ranges. Call after loading configuration to catch errors
// before any backend connection is attempted.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}

	schemaSources := countSet(c.Schema.Name, c.Schema.InlineSpec)
	if schemaSources == 0 {
		return fmt.Errorf("schema source is required: set schema.name or schema.inline_spec")
	}
	if schemaSources > 1 {
		return fmt.Errorf("ambiguous schema source: set only one of schema.name and schema.inline_spec")
	}

	converterSources := countSet(c.Converter.Name, c.Converter.InlineSpec)
	if converterSources == 0 {
		return fmt.Errorf("converter source is required: set converter.name or converter.inline_spec")
	}
	if converterSources > 1 {
		return fmt.Errorf("ambiguous converter source: set only one of converter.name and converter.inline_spec")
	}

	if c.Sink.Backend == "" {
		return fmt.Errorf("sink.backend is required")
	}
	if c.Sink.MaxConns < 0 || c.Sink.MinConns < 0 {
		return fmt.Errorf("sink connection counts cannot be negative")
	}
	if c.Sink.MinConns > c.Sink.MaxConns {
		return fmt.Errorf("sink.min_conns cannot exceed sink.max_conns")
	}

	switch c.Input.Compression {
	case "", "none", "auto", "gzip", "snappy", "zstd", "s2", "lz4":
	default:
		return fmt.Errorf("unknown input compression %q", c.Input.Compression)
	}
	if c.Input.BufferSize < 0 {
		return fmt.Errorf("input.buffer_size cannot be negative")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0")
	}

	return nil
}

// countSet returns how many of the given values are non-empty.
func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}
