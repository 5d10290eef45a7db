// Package syncrecord defines the persisted synchronization state of one local
// entity against one external accounting system.
package syncrecord

import (
	"time"

	"github.com/Strob0t/syncbridge/internal/domain/entity"
)

// Status represents the current state of a sync record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress" // claimed by a worker; never a resting state
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusConflict   Status = "conflict"
)

// Record is one row per (entity type, entity id, external system).
type Record struct {
	ID               string     `json:"id"`
	EntityType       string     `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	ExternalSystemID string     `json:"external_system_id"`
	ExternalID       string     `json:"external_id,omitempty"`
	Status           Status     `json:"status"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	RetryCount       int        `json:"retry_count"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`

	// ConflictID links the open conflict while Status is conflict.
	ConflictID string `json:"conflict_id,omitempty"`
	// ResolutionID names a resolved conflict whose data the next attempt applies.
	ResolutionID string `json:"resolution_id,omitempty"`
	// Dirty is set when a re-sync was requested while the record was claimed.
	Dirty      bool       `json:"dirty"`
	ClaimToken string     `json:"-"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key is the natural identity of a record.
type Key struct {
	EntityType       string `json:"entity_type"`
	EntityID         string `json:"entity_id"`
	ExternalSystemID string `json:"external_system_id"`
}

// Key returns the natural identity of r.
func (r *Record) Key() Key {
	return Key{EntityType: r.EntityType, EntityID: r.EntityID, ExternalSystemID: r.ExternalSystemID}
}

// Ref returns the local entity the record tracks.
func (r *Record) Ref() entity.Ref {
	return entity.Ref{Type: r.EntityType, ID: r.EntityID}
}

// Due reports whether the record is eligible for a new attempt at now.
func (r *Record) Due(now time.Time) bool {
	switch r.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return r.NextRetryAt != nil && !r.NextRetryAt.After(now)
	default:
		return false
	}
}

// Outcome is the result of one attempt, written back by Complete.
type Outcome struct {
	Status       Status
	ExternalID   string
	ErrorMessage string
	RetryCount   int
	NextRetryAt  *time.Time
	LastSyncAt   *time.Time
	// KeepResolution leaves ResolutionID in place so a retry re-applies it.
	KeepResolution bool
}

// RequeueResult reports what a requeue request did to a record.
type RequeueResult string

const (
	RequeuePending RequeueResult = "pending" // record is now pending
	RequeueDirty   RequeueResult = "dirty"   // record is claimed; re-sync after the running attempt
	RequeueBlocked RequeueResult = "blocked" // record awaits operator conflict resolution
)

// TriggerRequest asks for an entity to be synchronized. An empty
// ExternalSystemID fans out to every active system.
type TriggerRequest struct {
	EntityType       string `json:"entity_type"`
	EntityID         string `json:"entity_id"`
	ExternalSystemID string `json:"external_system_id,omitempty"`
}

// ListFilter narrows record listings.
type ListFilter struct {
	EntityType       string
	EntityID         string
	ExternalSystemID string
	Status           Status
	Limit            int
}
