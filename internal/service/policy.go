package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Strob0t/syncbridge/internal/config"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/port/broadcast"
	"github.com/Strob0t/syncbridge/internal/port/database"
)

// PolicyFromConfig builds the policy seeded on first start.
func PolicyFromConfig(cfg config.Sync) syncpolicy.SyncPolicy {
	return syncpolicy.SyncPolicy{
		AutoSync:             cfg.AutoSync,
		SyncIntervalSeconds:  cfg.IntervalSeconds,
		MaxRetries:           cfg.MaxRetries,
		RetryDelaySeconds:    cfg.RetryDelaySeconds,
		RetryMaxDelaySeconds: cfg.RetryMaxDelaySeconds,
		ConflictResolution:   syncpolicy.ConflictPolicy(cfg.ConflictResolution),
		EnabledEntityTypes:   slices.Clone(cfg.EnabledEntityTypes),
	}
}

// PolicyService manages the deployment-wide sync policy.
type PolicyService struct {
	store  database.Store
	events *SyncEvents
	wake   func()
}

// NewPolicyService creates a policy service. events and wake may be nil.
func NewPolicyService(store database.Store, events *SyncEvents, wake func()) *PolicyService {
	return &PolicyService{store: store, events: events, wake: wake}
}

// Seed stores defaults unless a policy already exists and returns the
// effective policy.
func (s *PolicyService) Seed(ctx context.Context, defaults syncpolicy.SyncPolicy) (*syncpolicy.SyncPolicy, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default sync policy: %w", err)
	}
	return s.store.EnsureSyncPolicy(ctx, defaults)
}

// Get returns the stored policy.
func (s *PolicyService) Get(ctx context.Context) (*syncpolicy.SyncPolicy, error) {
	return s.store.GetSyncPolicy(ctx)
}

// Update merges and validates a partial update. The orchestrator picks it up
// on its next pass; a wake makes that happen now.
func (s *PolicyService) Update(ctx context.Context, req syncpolicy.UpdateRequest) (*syncpolicy.SyncPolicy, error) {
	cur, err := s.store.GetSyncPolicy(ctx)
	if err != nil {
		return nil, err
	}
	next := req.Apply(*cur)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.SaveSyncPolicy(ctx, &next); err != nil {
		return nil, err
	}

	slog.Info("sync policy updated",
		"auto_sync", next.AutoSync,
		"interval_seconds", next.SyncIntervalSeconds,
		"max_retries", next.MaxRetries,
		"conflict_resolution", next.ConflictResolution,
	)
	s.events.Broadcast(ctx, broadcast.EventPolicyChanged, next)
	if s.wake != nil {
		s.wake()
	}
	return &next, nil
}
