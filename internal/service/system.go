package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/port/broadcast"
	"github.com/Strob0t/syncbridge/internal/port/database"
	"github.com/Strob0t/syncbridge/internal/resilience"
)

// SystemService manages external system configuration and keeps the adapter
// registry in step with the store.
type SystemService struct {
	store    database.Store
	registry *adapter.Registry
	breakers *resilience.BreakerSet
	events   *SyncEvents
}

// NewSystemService creates a system service. breakers and events may be nil.
func NewSystemService(store database.Store, registry *adapter.Registry, breakers *resilience.BreakerSet, events *SyncEvents) *SystemService {
	return &SystemService{store: store, registry: registry, breakers: breakers, events: events}
}

// LoadRegistry registers every stored system. Systems whose adapter cannot be
// built are logged and stay registered so their records fail visibly.
func (s *SystemService) LoadRegistry(ctx context.Context) error {
	systems, err := s.store.ListExternalSystems(ctx)
	if err != nil {
		return fmt.Errorf("list external systems: %w", err)
	}
	if err := s.registry.Load(systems); err != nil {
		slog.Warn("some external systems could not be loaded", "error", err)
	}
	slog.Info("adapter registry loaded", "systems", len(systems), "active", len(s.registry.ActiveSystemIDs()))
	return nil
}

// List returns every configured system.
func (s *SystemService) List(ctx context.Context) ([]system.ExternalSystem, error) {
	return s.store.ListExternalSystems(ctx)
}

// Get returns one system.
func (s *SystemService) Get(ctx context.Context, id string) (*system.ExternalSystem, error) {
	return s.store.GetExternalSystem(ctx, id)
}

// Create validates and stores a system, then registers its adapter.
func (s *SystemService) Create(ctx context.Context, req system.CreateRequest) (*system.ExternalSystem, error) {
	sys := req.New()
	if err := s.validate(&sys); err != nil {
		return nil, err
	}
	if err := s.store.CreateExternalSystem(ctx, &sys); err != nil {
		return nil, err
	}
	s.register(ctx, sys)
	return &sys, nil
}

// Update applies a partial update and re-registers the adapter with a fresh
// circuit breaker.
func (s *SystemService) Update(ctx context.Context, id string, req system.UpdateRequest) (*system.ExternalSystem, error) {
	sys, err := s.store.GetExternalSystem(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Apply(sys)
	if err := s.validate(sys); err != nil {
		return nil, err
	}
	if err := s.store.UpdateExternalSystem(ctx, sys); err != nil {
		return nil, err
	}
	if s.breakers != nil {
		s.breakers.Forget(sys.ID)
	}
	s.register(ctx, *sys)
	return sys, nil
}

// Delete removes a system. Its sync records stay for audit but are no longer
// scheduled.
func (s *SystemService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteExternalSystem(ctx, id); err != nil {
		return err
	}
	s.registry.Unregister(id)
	if s.breakers != nil {
		s.breakers.Forget(id)
	}
	slog.Info("external system deleted", "external_system_id", id)
	s.events.Broadcast(ctx, broadcast.EventSystemChanged, map[string]string{"id": id, "action": "deleted"})
	return nil
}

// TestConnection probes a system, active or not.
func (s *SystemService) TestConnection(ctx context.Context, id string) (bool, error) {
	if _, err := s.registry.Resolve(id); errors.Is(err, domain.ErrNotFound) {
		if _, err := s.store.GetExternalSystem(ctx, id); err != nil {
			return false, err
		}
	}
	ok := s.registry.TestConnection(ctx, id)
	slog.Info("external system connection tested", "external_system_id", id, "ok", ok)
	return ok, nil
}

// BreakerStates reports the circuit state per system.
func (s *SystemService) BreakerStates() map[string]string {
	if s.breakers == nil {
		return map[string]string{}
	}
	return s.breakers.States()
}

func (s *SystemService) validate(sys *system.ExternalSystem) error {
	if err := sys.Validate(); err != nil {
		return err
	}
	if !s.registry.Catalog().Has(sys.Type) {
		return fmt.Errorf("%w: unknown system type %q (available: %v)", domain.ErrValidation, sys.Type, s.registry.Catalog().Available())
	}
	return nil
}

func (s *SystemService) register(ctx context.Context, sys system.ExternalSystem) {
	if err := s.registry.Register(sys); err != nil {
		slog.Warn("external system registered with errors", "external_system_id", sys.ID, "error", err)
	}
	slog.Info("external system saved", "external_system_id", sys.ID, "type", sys.Type, "active", sys.IsActive)
	s.events.Broadcast(ctx, broadcast.EventSystemChanged, sys)
}
