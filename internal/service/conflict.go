package service

import (
	"context"
	"log/slog"

	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/port/broadcast"
	"github.com/Strob0t/syncbridge/internal/port/database"
)

// ConflictService exposes conflicts to operators and records their decisions.
type ConflictService struct {
	store  database.Store
	events *SyncEvents
	wake   func()
}

// NewConflictService creates a conflict service. events and wake may be nil.
func NewConflictService(store database.Store, events *SyncEvents, wake func()) *ConflictService {
	return &ConflictService{store: store, events: events, wake: wake}
}

// List returns conflicts matching the filter, open ones by default.
func (s *ConflictService) List(ctx context.Context, filter conflict.ListFilter) ([]conflict.Conflict, error) {
	if filter.State == "" {
		filter.State = conflict.StateOpen
	}
	return s.store.ListConflicts(ctx, filter)
}

// Get returns one conflict.
func (s *ConflictService) Get(ctx context.Context, id string) (*conflict.Conflict, error) {
	return s.store.GetConflict(ctx, id)
}

// Resolve records the operator decision and releases the record, whose next
// attempt applies the resolved data. Resolving twice returns
// domain.ErrConflict.
func (s *ConflictService) Resolve(ctx context.Context, id string, req conflict.ResolveRequest) (*conflict.Conflict, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c, err := s.store.ResolveConflict(ctx, id, req)
	if err != nil {
		return nil, err
	}

	slog.Info("conflict resolved",
		"conflict_id", c.ID,
		"sync_record_id", c.SyncRecordID,
		"resolution", c.Resolution,
		"resolved_by", c.ResolvedBy,
	)
	s.events.Broadcast(ctx, broadcast.EventConflictResolved, c)
	if s.wake != nil {
		s.wake()
	}
	return c, nil
}
