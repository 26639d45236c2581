package schema

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/logger"
)

// Registry manages named schemas available for resolution by name.
type Registry struct {
	schemas map[string]*Schema
	mu      sync.RWMutex
	logger  *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
		logger:  logger.Get().With(zap.String("component", "schema_registry")),
	}
}

// Register adds a schema under its type name. Registering the same schema
// again is a no-op; registering a different schema under an existing name
// fails.
func (r *Registry) Register(s *Schema) error {
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid schema")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.schemas[s.Name]; exists {
		if existing.Fingerprint() == s.Fingerprint() {
			r.logger.Debug("schema already registered", zap.String("name", s.Name))
			return nil
		}
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("schema %s already registered with a different shape", s.Name))
	}

	r.schemas[s.Name] = s
	r.logger.Info("schema registered",
		zap.String("name", s.Name),
		zap.Int("fields", len(s.Fields)))
	return nil
}

// Get retrieves a schema by name
func (r *Registry) Get(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.schemas[name]
	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("schema %s not found", name))
	}
	return s, nil
}

// Has checks if a schema is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.schemas[name]
	return exists
}

// List returns the registered schema names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}

// Clear removes all registered schemas (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = make(map[string]*Schema)
}

// Global registry functions

// Register adds a schema to the global registry
func Register(s *Schema) error {
	return globalRegistry.Register(s)
}

// Get retrieves a schema from the global registry
func Get(name string) (*Schema, error) {
	return globalRegistry.Get(name)
}

// Has checks if a schema is registered in the global registry
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// List returns schema names from the global registry
func List() []string {
	return globalRegistry.List()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
