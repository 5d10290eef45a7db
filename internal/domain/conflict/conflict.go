// Package conflict defines field-level divergence between a local record and
// its external copy, and the operator decisions that settle it.
package conflict

import (
	"time"

	"github.com/Strob0t/syncbridge/internal/domain/entity"
)

// Resolution is the operator's (or policy's) decision for a conflict.
type Resolution string

const (
	ResolutionUseLocal    Resolution = "use_local"
	ResolutionUseExternal Resolution = "use_external"
	ResolutionMerge       Resolution = "merge"
	ResolutionManual      Resolution = "manual"
)

// Conflict is a detected divergence for one sync record. Open conflicts
// block automatic sync of their record; resolved ones stay as audit trail.
type Conflict struct {
	ID               string          `json:"id"`
	SyncRecordID     string          `json:"sync_record_id"`
	EntityType       string          `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	ExternalSystemID string          `json:"external_system_id"`
	LocalData        entity.Snapshot `json:"local_data"`
	ExternalData     entity.Snapshot `json:"external_data"`
	ConflictFields   []string        `json:"conflict_fields"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	Resolution       Resolution      `json:"resolution,omitempty"`
	ResolvedData     entity.Snapshot `json:"resolved_data,omitempty"`
	ResolvedBy       string          `json:"resolved_by,omitempty"`
}

// Open reports whether the conflict still awaits resolution.
func (c *Conflict) Open() bool { return c.ResolvedAt == nil }

// Plan describes how the attempt following a resolution applies it.
type Plan struct {
	// Data is the authoritative snapshot.
	Data entity.Snapshot
	// WriteLocal is false when Data already is the local record.
	WriteLocal bool
	// PushExternal is false when Data already is the external record.
	PushExternal bool
}

// Plan derives the authoritative data from a resolved conflict. Operator
// supplied data always wins and is written to both sides.
func (c *Conflict) Plan() Plan {
	if len(c.ResolvedData) > 0 {
		return Plan{Data: c.ResolvedData.Clone(), WriteLocal: true, PushExternal: true}
	}
	switch c.Resolution {
	case ResolutionUseLocal:
		return Plan{Data: c.LocalData.Clone(), PushExternal: true}
	case ResolutionUseExternal:
		return Plan{Data: c.ExternalData.Clone(), WriteLocal: true}
	default:
		return Plan{}
	}
}

// ResolveRequest is the operator input for resolving a conflict.
type ResolveRequest struct {
	Resolution   Resolution      `json:"resolution"`
	ResolvedData entity.Snapshot `json:"resolved_data,omitempty"`
	ResolvedBy   string          `json:"resolved_by,omitempty"`
}

// State filters conflict listings.
type State string

const (
	StateOpen     State = "open"
	StateResolved State = "resolved"
	StateAll      State = "all"
)

// ListFilter narrows conflict listings.
type ListFilter struct {
	State            State
	ExternalSystemID string
	Limit            int
}
