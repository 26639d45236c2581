package sink

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/geobridge/geobridge/pkg/errors"
	"github.com/geobridge/geobridge/pkg/logger"
)

// Factory creates a backend instance.
type Factory func() Backend

// Registry manages backend factories by name.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new backend registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Get().With(zap.String("component", "sink_registry")),
	}
}

// Register registers a backend factory. Backend packages call this from
// init.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink backend %s already registered", name))
	}

	r.factories[name] = factory
	r.logger.Info("sink backend registered", zap.String("backend", name))
	return nil
}

// Get creates a backend instance by name
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink backend %s not found", name))
	}
	return factory(), nil
}

// List returns the registered backend names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Global registry functions

// Register registers a backend factory in the global registry
func Register(name string, factory Factory) error {
	return globalRegistry.Register(name, factory)
}

// Get creates a backend instance from the global registry
func Get(name string) (Backend, error) {
	return globalRegistry.Get(name)
}

// List returns backend names from the global registry
func List() []string {
	return globalRegistry.List()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
