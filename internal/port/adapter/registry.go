package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/system"
)

// CredentialResolver turns a credential reference into the secret value.
type CredentialResolver func(ref string) (string, error)

// Wrapper decorates every adapter the registry builds.
type Wrapper func(sys system.ExternalSystem, a Adapter) Adapter

// Entry is a registered system and its adapter. Err is set when the adapter
// could not be built; resolving such an entry is a configuration failure.
type Entry struct {
	System  system.ExternalSystem
	Adapter Adapter
	Err     error
}

// Registry holds one adapter per configured external system.
type Registry struct {
	catalog *Catalog
	creds   CredentialResolver
	wrap    Wrapper

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry. creds and wrap may be nil.
func NewRegistry(catalog *Catalog, creds CredentialResolver, wrap Wrapper) *Registry {
	return &Registry{
		catalog: catalog,
		creds:   creds,
		wrap:    wrap,
		entries: make(map[string]*Entry),
	}
}

// Catalog returns the vendor catalog backing the registry.
func (r *Registry) Catalog() *Catalog { return r.catalog }

// Load registers every given system, replacing what was registered before.
// Systems whose adapter cannot be built stay registered with their error and
// the errors are returned joined.
func (r *Registry) Load(systems []system.ExternalSystem) error {
	entries := make(map[string]*Entry, len(systems))
	var errs []error
	for i := range systems {
		e := r.build(systems[i])
		if e.Err != nil {
			errs = append(errs, e.Err)
		}
		entries[systems[i].ID] = e
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return errors.Join(errs...)
}

// Register adds or replaces the adapter for sys. The entry is stored even
// when building fails so the orchestrator surfaces the configuration error.
func (r *Registry) Register(sys system.ExternalSystem) error {
	e := r.build(sys)
	r.mu.Lock()
	r.entries[sys.ID] = e
	r.mu.Unlock()
	return e.Err
}

// Unregister removes a system.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Resolve returns the entry for a system regardless of its active flag.
func (r *Registry) Resolve(id string) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("external system %s: %w", id, domain.ErrNotFound)
	}
	if e.Err != nil {
		return nil, fmt.Errorf("external system %s: %w: %w", id, domain.ErrConfiguration, e.Err)
	}
	return e, nil
}

// ResolveActive returns the adapter of an active system. Missing, broken and
// inactive systems are configuration failures.
func (r *Registry) ResolveActive(id string) (*Entry, error) {
	e, err := r.Resolve(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no adapter registered for system %s", domain.ErrConfiguration, id)
		}
		return nil, err
	}
	if !e.System.IsActive {
		return nil, fmt.Errorf("%w: external system %s is inactive", domain.ErrConfiguration, id)
	}
	return e, nil
}

// TestConnection probes a system, active or not. Any failure, including a
// panicking adapter, yields false.
func (r *Registry) TestConnection(ctx context.Context, id string) (ok bool) {
	e, err := r.Resolve(id)
	if err != nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return e.Adapter.TestConnection(ctx)
}

// ActiveSystemIDs returns the ids of active systems, sorted. Systems whose
// adapter failed to build are included.
func (r *Registry) ActiveSystemIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.System.IsActive {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Systems returns the registered system configurations.
func (r *Registry) Systems() []system.ExternalSystem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]system.ExternalSystem, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.System)
	}
	slices.SortFunc(out, func(a, b system.ExternalSystem) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (r *Registry) build(sys system.ExternalSystem) *Entry {
	e := &Entry{System: sys}

	var credential string
	if sys.CredentialRef != "" && r.creds != nil {
		c, err := r.creds(sys.CredentialRef)
		if err != nil {
			e.Err = fmt.Errorf("resolve credential for system %s: %w", sys.ID, err)
			return e
		}
		credential = c
	}

	a, err := r.catalog.New(sys, credential)
	if err != nil {
		e.Err = fmt.Errorf("build adapter for system %s: %w", sys.ID, err)
		return e
	}
	if r.wrap != nil {
		a = r.wrap(sys, a)
	}
	e.Adapter = a
	return e
}
