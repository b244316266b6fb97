package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a Provider for one datasource. Factories that dial
// eagerly should honor ctx; factories that dial lazily may ignore it.
type Factory func(ctx context.Context, cfg Config) (Provider, error)

// registry is the global driver registry instance.
var registry = &Registry{
	drivers: make(map[string]Factory),
}

// Registry maps driver names to provider factories.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Factory
}

// Register adds a provider factory to the registry.
// Panics if the driver is already registered.
func (r *Registry) Register(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[driver]; exists {
		panic(fmt.Sprintf("provider: driver %q already registered", driver))
	}

	r.drivers[driver] = factory
}

// New constructs a provider for the given driver.
// Returns an error if the driver is not registered.
func (r *Registry) New(ctx context.Context, driver string, cfg Config) (Provider, error) {
	r.mu.RLock()
	factory, exists := r.drivers[driver]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported datasource driver: %s", driver)
	}

	return factory(ctx, cfg)
}

// List returns the registered driver names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]string, 0, len(r.drivers))
	for driver := range r.drivers {
		drivers = append(drivers, driver)
	}
	sort.Strings(drivers)

	return drivers
}

// IsRegistered reports whether a driver is registered.
func (r *Registry) IsRegistered(driver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.drivers[driver]
	return exists
}

// Register allows provider packages to register themselves.
func Register(driver string, factory Factory) {
	registry.Register(driver, factory)
}

// New constructs a provider from the global registry.
func New(ctx context.Context, driver string, cfg Config) (Provider, error) {
	return registry.New(ctx, driver, cfg)
}

// ListRegistered returns all registered driver names.
func ListRegistered() []string {
	return registry.List()
}

// IsDriverSupported reports whether a driver is registered.
func IsDriverSupported(driver string) bool {
	return registry.IsRegistered(driver)
}
