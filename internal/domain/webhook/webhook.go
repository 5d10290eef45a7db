// Package webhook defines domain types for inbound change notifications from
// external accounting systems.
package webhook

import (
	"fmt"
	"time"

	"github.com/Strob0t/syncbridge/internal/domain"
)

// ChangeType classifies what happened to the external entity.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
	ChangeUnknown ChangeType = "unknown"
)

// ChangeNotification is a normalized webhook event.
type ChangeNotification struct {
	ExternalSystemID string     `json:"external_system_id"`
	ExternalID       string     `json:"external_id"`
	ChangeType       ChangeType `json:"change_type"`
	EntityType       string     `json:"entity_type,omitempty"` // vendor hint; not used for lookup
	DeliveryID       string     `json:"delivery_id,omitempty"` // vendor delivery id for dedupe
	ReceivedAt       time.Time  `json:"received_at"`
}

// Validate checks that the notification identifies an external entity.
func (n *ChangeNotification) Validate() error {
	if n.ExternalSystemID == "" {
		return fmt.Errorf("%w: external_system_id is required", domain.ErrValidation)
	}
	if n.ExternalID == "" {
		return fmt.Errorf("%w: external_id is required", domain.ErrValidation)
	}
	switch n.ChangeType {
	case ChangeCreated, ChangeUpdated, ChangeDeleted, ChangeUnknown:
	case "":
		n.ChangeType = ChangeUnknown
	default:
		return fmt.Errorf("%w: unknown change_type %q", domain.ErrValidation, n.ChangeType)
	}
	return nil
}

// Disposition reports what ingest did with a notification.
type Disposition string

const (
	DispositionRequeued  Disposition = "requeued"
	DispositionDirty     Disposition = "dirty"     // record claimed; re-sync after the running attempt
	DispositionBlocked   Disposition = "blocked"   // record awaits conflict resolution
	DispositionOrphan    Disposition = "orphan"    // no matching sync record; discarded
	DispositionDuplicate Disposition = "duplicate" // delivery already seen
)

// IngestResult is returned to the webhook caller.
type IngestResult struct {
	Disposition  Disposition `json:"disposition"`
	SyncRecordID string      `json:"sync_record_id,omitempty"`
}
