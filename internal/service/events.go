package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/port/broadcast"
	"github.com/Strob0t/syncbridge/internal/port/messagequeue"
)

// SyncEvents fans attempt outcomes out to NATS subscribers and connected
// operator dashboards. Either sink may be nil.
type SyncEvents struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewSyncEvents creates the event fan-out.
func NewSyncEvents(queue messagequeue.Queue, hub broadcast.Broadcaster) *SyncEvents {
	return &SyncEvents{queue: queue, hub: hub}
}

// RecordChanged publishes the state of rec on sync.events.<status>.
func (e *SyncEvents) RecordChanged(ctx context.Context, rec *syncrecord.Record, conflictFields []string) {
	if e == nil || rec == nil {
		return
	}
	payload := messagequeue.SyncEventPayload{
		SyncRecordID:     rec.ID,
		EntityType:       rec.EntityType,
		EntityID:         rec.EntityID,
		ExternalSystemID: rec.ExternalSystemID,
		ExternalID:       rec.ExternalID,
		Status:           string(rec.Status),
		Error:            rec.ErrorMessage,
		RetryCount:       rec.RetryCount,
		NextRetryAt:      rec.NextRetryAt,
		ConflictID:       rec.ConflictID,
		ConflictFields:   conflictFields,
	}
	if e.queue != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("marshal sync event", "sync_record_id", rec.ID, "error", err)
		} else if err := e.queue.Publish(ctx, messagequeue.EventSubject(string(rec.Status)), data); err != nil {
			slog.Warn("publish sync event failed", "sync_record_id", rec.ID, "error", err)
		}
	}
	e.Broadcast(ctx, broadcast.EventSyncRecord, payload)
}

// Broadcast pushes an event to dashboards only.
func (e *SyncEvents) Broadcast(ctx context.Context, eventType string, payload any) {
	if e == nil || e.hub == nil {
		return
	}
	e.hub.BroadcastEvent(ctx, eventType, payload)
}
