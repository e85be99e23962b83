package connections

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/inventory"
)

// Connection is a connection plugin instance bound to one host.
type Connection interface {
	// Open establishes the connection. cfg may be nil.
	Open(ctx context.Context, params inventory.ConnectionParams, cfg *config.Config) error

	// Close releases the connection.
	Close() error
}

// Factory creates an unopened Connection.
type Factory func() Connection

type plugin struct {
	factory Factory
	typ     reflect.Type
}

// Registry maps plugin names to factories.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]plugin)}
}

// DefaultRegistry is the process-wide registry used by the package-level
// functions.
var DefaultRegistry = NewRegistry()

// Register adds a plugin. Registering a factory producing the same type
// under the same name again does nothing.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("connection plugin name is empty")
	}
	if f == nil {
		return fmt.Errorf("connection plugin %s: factory is nil", name)
	}

	typ := reflect.TypeOf(f())

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.plugins[name]; ok {
		if existing.typ == typ {
			return nil
		}
		return fmt.Errorf("%w: %s is %v, not %v", ErrPluginConflict, name, existing.typ, typ)
	}

	r.plugins[name] = plugin{factory: f, typ: typ}
	return nil
}

// Deregister removes a plugin.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[name]; !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	delete(r.plugins, name)
	return nil
}

// DeregisterAll removes every plugin.
func (r *Registry) DeregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]plugin)
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return p.factory, nil
}

// Names returns registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds a plugin to DefaultRegistry.
func Register(name string, f Factory) error {
	return DefaultRegistry.Register(name, f)
}

// MustRegister is Register that panics on error. Meant for init functions.
func MustRegister(name string, f Factory) {
	if err := Register(name, f); err != nil {
		panic(err)
	}
}
