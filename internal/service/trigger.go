package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/port/database"
	"github.com/Strob0t/syncbridge/internal/port/entitystore"
	"github.com/Strob0t/syncbridge/internal/port/messagequeue"
)

const backfillPageSize = 500

// TriggerResult reports what a trigger did for one external system.
type TriggerResult struct {
	SyncRecordID     string                   `json:"sync_record_id"`
	ExternalSystemID string                   `json:"external_system_id"`
	Created          bool                     `json:"created"`
	Requeue          syncrecord.RequeueResult `json:"requeue,omitempty"`
}

// BackfillResult reports a backfill run.
type BackfillResult struct {
	EntityType string `json:"entity_type"`
	Scanned    int    `json:"scanned"`
	Created    int    `json:"created"`
}

// TriggerService turns local mutations into pending sync records.
type TriggerService struct {
	store    database.Store
	registry *adapter.Registry
	entities entitystore.Repository
	idField  func(entityType string) string
	wake     func()
}

// NewTriggerService creates a trigger service. idField names the snapshot
// key holding the entity id for backfills; nil means "id".
func NewTriggerService(store database.Store, registry *adapter.Registry, entities entitystore.Repository, idField func(string) string, wake func()) *TriggerService {
	if idField == nil {
		idField = func(string) string { return "id" }
	}
	return &TriggerService{store: store, registry: registry, entities: entities, idField: idField, wake: wake}
}

// Trigger makes sure a record exists for the entity against the requested
// system, or every active system, and hands existing records back to the
// scheduler.
func (s *TriggerService) Trigger(ctx context.Context, req syncrecord.TriggerRequest) ([]TriggerResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	systems := s.registry.ActiveSystemIDs()
	if req.ExternalSystemID != "" {
		if _, err := s.registry.Resolve(req.ExternalSystemID); errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		systems = []string{req.ExternalSystemID}
	}

	results := make([]TriggerResult, 0, len(systems))
	for _, sysID := range systems {
		key := syncrecord.Key{EntityType: req.EntityType, EntityID: req.EntityID, ExternalSystemID: sysID}
		rec, created, err := s.store.EnsureSyncRecord(ctx, key)
		if err != nil {
			return results, fmt.Errorf("ensure sync record for %s on %s: %w", entity.Ref{Type: req.EntityType, ID: req.EntityID}, sysID, err)
		}
		res := TriggerResult{SyncRecordID: rec.ID, ExternalSystemID: sysID, Created: created}
		if !created {
			requeued, err := s.store.RequeueSyncRecord(ctx, rec.ID)
			if err != nil {
				return results, fmt.Errorf("requeue sync record %s: %w", rec.ID, err)
			}
			res.Requeue = requeued
		}
		results = append(results, res)
	}

	if len(results) > 0 && s.wake != nil {
		s.wake()
	}
	slog.Debug("sync triggered", "entity_type", req.EntityType, "entity_id", req.EntityID, "systems", len(results))
	return results, nil
}

// Backfill creates pending records for every existing entity of a type
// against every active system. Existing records are left untouched.
func (s *TriggerService) Backfill(ctx context.Context, entityType string) (BackfillResult, error) {
	out := BackfillResult{EntityType: entityType}
	if entityType == "" {
		return out, fmt.Errorf("%w: entity_type is required", domain.ErrValidation)
	}
	systems := s.registry.ActiveSystemIDs()
	idKey := s.idField(entityType)

	after := ""
	for {
		prev := after
		page, err := s.entities.List(ctx, entityType, entity.Filter{AfterID: after, Limit: backfillPageSize})
		if err != nil {
			return out, fmt.Errorf("list %s after %q: %w", entityType, after, err)
		}
		for _, snap := range page {
			id := snapshotID(snap, idKey)
			if id == "" {
				continue
			}
			out.Scanned++
			after = id
			for _, sysID := range systems {
				_, created, err := s.store.EnsureSyncRecord(ctx, syncrecord.Key{EntityType: entityType, EntityID: id, ExternalSystemID: sysID})
				if err != nil {
					return out, fmt.Errorf("ensure sync record for %s/%s: %w", entityType, id, err)
				}
				if created {
					out.Created++
				}
			}
		}
		if len(page) < backfillPageSize || after == prev {
			break
		}
	}

	if out.Created > 0 && s.wake != nil {
		s.wake()
	}
	slog.Info("backfill completed", "entity_type", entityType, "scanned", out.Scanned, "created", out.Created)
	return out, nil
}

// Subscribe consumes sync.trigger messages. Requests that can never succeed
// are logged and acknowledged; store errors are returned for redelivery.
func (s *TriggerService) Subscribe(ctx context.Context, q messagequeue.Queue) (cancel func(), err error) {
	return q.Subscribe(ctx, messagequeue.SubjectSyncTrigger, func(ctx context.Context, _ string, data []byte) error {
		var p messagequeue.SyncTriggerPayload
		if err := json.Unmarshal(data, &p); err != nil {
			slog.WarnContext(ctx, "invalid sync trigger dropped", "error", err)
			return nil
		}
		_, err := s.Trigger(ctx, syncrecord.TriggerRequest{
			EntityType:       p.EntityType,
			EntityID:         p.EntityID,
			ExternalSystemID: p.ExternalSystemID,
		})
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "sync trigger rejected", "entity_type", p.EntityType, "entity_id", p.EntityID, "error", err)
			return nil
		}
		return err
	})
}

func snapshotID(snap entity.Snapshot, key string) string {
	switch v := snap[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
