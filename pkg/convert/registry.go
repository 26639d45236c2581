package convert

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/logger"
	"github.com/geobridge/geobridge/pkg/schema"
)

// Registry manages converter factories by kind and stored converter
// configurations by name.
type Registry struct {
	factories map[string]Factory
	configs   map[string]*Config
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new converter registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		configs:   make(map[string]*Config),
		logger:    logger.Get().With(zap.String("component", "converter_registry")),
	}
}

// RegisterFactory registers a converter kind. Converter packages call this
// from init.
func (r *Registry) RegisterFactory(kind string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("converter kind %s already registered", kind))
	}

	r.factories[kind] = factory
	r.logger.Info("converter kind registered", zap.String("kind", kind))
	return nil
}

// RegisterConfig stores a named converter configuration for later
// resolution by name.
func (r *Registry) RegisterConfig(name string, cfg *Config) error {
	if cfg == nil || cfg.Type == "" {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("converter config %s has no type", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("converter config %s already registered", name))
	}

	r.configs[name] = cfg
	r.logger.Info("converter config registered",
		zap.String("name", name),
		zap.String("kind", cfg.Type))
	return nil
}

// GetConfig retrieves a stored converter configuration by name
func (r *Registry) GetConfig(name string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, exists := r.configs[name]
	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("converter config %s not found", name))
	}
	return cfg, nil
}

// Build creates a live converter bound to the schema
func (r *Registry) Build(s *schema.Schema, cfg *Config) (Converter, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("converter kind %s not found", cfg.Type))
	}

	conv, err := factory(s, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to build %s converter", cfg.Type))
	}

	return conv, nil
}

// ListKinds returns the registered converter kinds
func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	return kinds
}

// ListConfigs returns the registered converter configuration names
func (r *Registry) ListConfigs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Clear removes stored configurations (mainly for testing). Factories stay:
// they are process-wide capabilities, not per-run state.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = make(map[string]*Config)
}

// Global registry functions

// RegisterFactory registers a converter kind in the global registry
func RegisterFactory(kind string, factory Factory) error {
	return globalRegistry.RegisterFactory(kind, factory)
}

// RegisterConfig stores a named configuration in the global registry
func RegisterConfig(name string, cfg *Config) error {
	return globalRegistry.RegisterConfig(name, cfg)
}

// GetConfig retrieves a stored configuration from the global registry
func GetConfig(name string) (*Config, error) {
	return globalRegistry.GetConfig(name)
}

// Build creates a converter from the global registry
func Build(s *schema.Schema, cfg *Config) (Converter, error) {
	return globalRegistry.Build(s, cfg)
}

// ListKinds returns converter kinds from the global registry
func ListKinds() []string {
	return globalRegistry.ListKinds()
}

// ListConfigs returns stored configuration names from the global registry
func ListConfigs() []string {
	return globalRegistry.ListConfigs()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
