// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/domain/system"
)

// ClaimParams selects due sync records for one scheduling pass.
type ClaimParams struct {
	EntityTypes []string
	SystemIDs   []string
	Limit       int
	// Lease is how long an in_progress claim is honored before another
	// pass may take the record over.
	Lease time.Duration
	Now   time.Time
	// Exclude lists records the caller is still attempting; they are never
	// taken over, whatever their claim age.
	Exclude []string
}

// Store is the port interface for database operations.
type Store interface {
	// Sync records
	GetSyncRecord(ctx context.Context, id string) (*syncrecord.Record, error)
	GetSyncRecordByKey(ctx context.Context, key syncrecord.Key) (*syncrecord.Record, error)
	FindSyncRecordByExternalID(ctx context.Context, systemID, externalID string) (*syncrecord.Record, error)
	ListSyncRecords(ctx context.Context, filter syncrecord.ListFilter) ([]syncrecord.Record, error)
	// EnsureSyncRecord returns the record for key, creating it pending when
	// absent. created reports whether this call inserted it.
	EnsureSyncRecord(ctx context.Context, key syncrecord.Key) (rec *syncrecord.Record, created bool, err error)
	// RequeueSyncRecord hands a record back to the scheduler: claimed records
	// are marked dirty, records awaiting conflict resolution stay blocked,
	// anything else becomes pending with its retry state cleared.
	RequeueSyncRecord(ctx context.Context, id string) (syncrecord.RequeueResult, error)
	// ClaimDueSyncRecords atomically moves due records to in_progress with a
	// fresh claim token and returns them.
	ClaimDueSyncRecords(ctx context.Context, p ClaimParams) ([]syncrecord.Record, error)
	// CompleteSyncRecord writes an attempt outcome if claimToken still holds
	// the claim, returning domain.ErrConflict otherwise. A conflict outcome
	// must carry the open conflict, which is created or refreshed in the
	// same transaction.
	CompleteSyncRecord(ctx context.Context, id, claimToken string, out syncrecord.Outcome, open *conflict.Conflict) (*syncrecord.Record, error)

	// Conflicts
	GetConflict(ctx context.Context, id string) (*conflict.Conflict, error)
	ListConflicts(ctx context.Context, filter conflict.ListFilter) ([]conflict.Conflict, error)
	// ResolveConflict marks an open conflict resolved and moves its record
	// from conflict to pending with the resolution attached.
	ResolveConflict(ctx context.Context, id string, req conflict.ResolveRequest) (*conflict.Conflict, error)

	// External systems
	ListExternalSystems(ctx context.Context) ([]system.ExternalSystem, error)
	GetExternalSystem(ctx context.Context, id string) (*system.ExternalSystem, error)
	CreateExternalSystem(ctx context.Context, sys *system.ExternalSystem) error
	UpdateExternalSystem(ctx context.Context, sys *system.ExternalSystem) error
	DeleteExternalSystem(ctx context.Context, id string) error

	// Sync policy
	GetSyncPolicy(ctx context.Context) (*syncpolicy.SyncPolicy, error)
	// EnsureSyncPolicy seeds the policy row with defaults when absent and
	// returns the stored policy.
	EnsureSyncPolicy(ctx context.Context, defaults syncpolicy.SyncPolicy) (*syncpolicy.SyncPolicy, error)
	SaveSyncPolicy(ctx context.Context, p *syncpolicy.SyncPolicy) error
}
