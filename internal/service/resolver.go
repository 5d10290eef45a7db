package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/port/entitystore"
)

// ResolveInput is a detected divergence handed to the resolver.
type ResolveInput struct {
	Policy   syncpolicy.ConflictPolicy
	Record   syncrecord.Record
	Adapter  adapter.Adapter
	Local    entity.Snapshot
	External entity.Snapshot
	Fields   []string
}

// ResolveResult is what the attempt persists after resolution. Status is
// success or conflict; Conflict is set for the latter.
type ResolveResult struct {
	Status     syncrecord.Status
	ExternalID string
	Conflict   *conflict.Conflict
}

// ConflictResolver settles divergences according to the conflict policy.
type ConflictResolver struct {
	entities entitystore.Repository
}

// NewConflictResolver creates a resolver writing local records through entities.
func NewConflictResolver(entities entitystore.Repository) *ConflictResolver {
	return &ConflictResolver{entities: entities}
}

// Resolve applies the policy. Errors are returned unclassified; the caller
// treats them like any other attempt failure.
func (r *ConflictResolver) Resolve(ctx context.Context, in ResolveInput) (ResolveResult, error) {
	switch in.Policy {
	case syncpolicy.ConflictLocalWins:
		res, err := in.Adapter.Push(ctx, adapter.PushRequest{
			EntityType: in.Record.EntityType,
			EntityID:   in.Record.EntityID,
			ExternalID: in.Record.ExternalID,
			Data:       in.Local,
		})
		if err != nil {
			return ResolveResult{}, fmt.Errorf("push local copy: %w", err)
		}
		return ResolveResult{Status: syncrecord.StatusSuccess, ExternalID: orDefault(res.ExternalID, in.Record.ExternalID)}, nil

	case syncpolicy.ConflictExternalWins:
		if err := r.entities.Update(ctx, in.Record.EntityType, in.Record.EntityID, in.External); err != nil {
			return ResolveResult{}, fmt.Errorf("write external copy locally: %w", err)
		}
		return ResolveResult{Status: syncrecord.StatusSuccess, ExternalID: in.Record.ExternalID}, nil

	default:
		return ResolveResult{
			Status: syncrecord.StatusConflict,
			Conflict: &conflict.Conflict{
				LocalData:      in.Local,
				ExternalData:   in.External,
				ConflictFields: in.Fields,
			},
		}, nil
	}
}

// Apply carries out an operator resolution: the authoritative data is written
// locally unless it already is the local record, and pushed unless it
// already is the external record.
func (r *ConflictResolver) Apply(ctx context.Context, rec syncrecord.Record, a adapter.Adapter, resolved *conflict.Conflict) (ResolveResult, error) {
	plan := resolved.Plan()
	externalID := rec.ExternalID
	if plan.WriteLocal {
		if err := r.entities.Update(ctx, rec.EntityType, rec.EntityID, plan.Data); err != nil {
			return ResolveResult{}, fmt.Errorf("apply resolution %s locally: %w", resolved.ID, err)
		}
	}
	if plan.PushExternal {
		res, err := a.Push(ctx, adapter.PushRequest{
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			ExternalID: rec.ExternalID,
			Data:       plan.Data,
		})
		if err != nil {
			return ResolveResult{}, fmt.Errorf("apply resolution %s externally: %w", resolved.ID, err)
		}
		externalID = orDefault(res.ExternalID, externalID)
	}
	return ResolveResult{Status: syncrecord.StatusSuccess, ExternalID: externalID}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
