package adapter

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Strob0t/syncbridge/internal/domain/system"
)

// Factory builds an adapter for one configured system. credential is the
// secret resolved from the system's credential reference.
type Factory func(sys system.ExternalSystem, credential string) (Adapter, error)

// Catalog maps vendor types to adapter factories. It is built once in main
// and passed to the registry.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register makes a vendor factory available by type.
func (c *Catalog) Register(vendor string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[vendor]; exists {
		panic(fmt.Sprintf("adapter: duplicate registration for %q", vendor))
	}
	c.factories[vendor] = factory
}

// Has reports whether vendor is registered.
func (c *Catalog) Has(vendor string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.factories[vendor]
	return ok
}

// New builds an adapter for sys using its vendor factory.
func (c *Catalog) New(sys system.ExternalSystem, credential string) (Adapter, error) {
	c.mu.RLock()
	factory, ok := c.factories[sys.Type]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("adapter: unknown vendor %q", sys.Type)
	}
	return factory(sys, credential)
}

// Available returns the registered vendor types, sorted.
func (c *Catalog) Available() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
