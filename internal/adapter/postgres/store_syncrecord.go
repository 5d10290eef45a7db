package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/port/database"
)

const recordColumns = `id, entity_type, entity_id, external_system_id, external_id, status,
	last_sync_at, error_message, retry_count, next_retry_at, conflict_id, resolution_id,
	dirty, claim_token, claimed_at, version, created_at, updated_at`

func scanRecord(row scannable) (syncrecord.Record, error) {
	var r syncrecord.Record
	err := row.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.ExternalSystemID, &r.ExternalID, &r.Status,
		&r.LastSyncAt, &r.ErrorMessage, &r.RetryCount, &r.NextRetryAt, &r.ConflictID, &r.ResolutionID,
		&r.Dirty, &r.ClaimToken, &r.ClaimedAt, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func collectRecords(rows pgx.Rows) ([]syncrecord.Record, error) {
	defer rows.Close()
	var out []syncrecord.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		out = append(out, r)
	}
	return orEmpty(out), rows.Err()
}

// --- Sync records ---

// GetSyncRecord returns a sync record by ID.
func (s *Store) GetSyncRecord(ctx context.Context, id string) (*syncrecord.Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM sync_records WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get sync record %s", id)
	}
	return &r, nil
}

// GetSyncRecordByKey returns the sync record of an entity in one external system.
func (s *Store) GetSyncRecordByKey(ctx context.Context, key syncrecord.Key) (*syncrecord.Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM sync_records
		 WHERE entity_type = $1 AND entity_id = $2 AND external_system_id = $3`,
		key.EntityType, key.EntityID, key.ExternalSystemID))
	if err != nil {
		return nil, notFoundWrap(err, "get sync record %s/%s@%s", key.EntityType, key.EntityID, key.ExternalSystemID)
	}
	return &r, nil
}

// FindSyncRecordByExternalID returns the sync record mapped to an external ID.
func (s *Store) FindSyncRecordByExternalID(ctx context.Context, systemID, externalID string) (*syncrecord.Record, error) {
	if externalID == "" {
		return nil, fmt.Errorf("find sync record: empty external id: %w", domain.ErrNotFound)
	}
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM sync_records
		 WHERE external_system_id = $1 AND external_id = $2
		 ORDER BY created_at LIMIT 1`, systemID, externalID))
	if err != nil {
		return nil, notFoundWrap(err, "find sync record %s@%s", externalID, systemID)
	}
	return &r, nil
}

// ListSyncRecords returns sync records matching the filter.
func (s *Store) ListSyncRecords(ctx context.Context, f syncrecord.ListFilter) ([]syncrecord.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.EntityType != "" {
		add("entity_type", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id", f.EntityID)
	}
	if f.ExternalSystemID != "" {
		add("external_system_id", f.ExternalSystemID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}

	q := `SELECT ` + recordColumns + ` FROM sync_records`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(f.Limit))
	q += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	return collectRecords(rows)
}

// EnsureSyncRecord returns the record for key, inserting it pending when absent.
func (s *Store) EnsureSyncRecord(ctx context.Context, key syncrecord.Key) (*syncrecord.Record, bool, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`INSERT INTO sync_records (id, entity_type, entity_id, external_system_id, status)
		 VALUES ($1, $2, $3, $4, 'pending')
		 ON CONFLICT (entity_type, entity_id, external_system_id) DO NOTHING
		 RETURNING `+recordColumns,
		uuid.NewString(), key.EntityType, key.EntityID, key.ExternalSystemID))
	if err == nil {
		return &r, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("ensure sync record: %w", err)
	}
	existing, err := s.GetSyncRecordByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// RequeueSyncRecord hands a sync record back to the scheduler.
func (s *Store) RequeueSyncRecord(ctx context.Context, id string) (syncrecord.RequeueResult, error) {
	// SET expressions see the pre-update row.
	var status syncrecord.Status
	err := s.pool.QueryRow(ctx,
		`UPDATE sync_records SET
		   dirty         = (status = 'in_progress'),
		   status        = CASE WHEN status IN ('in_progress', 'conflict') THEN status ELSE 'pending' END,
		   retry_count   = CASE WHEN status IN ('in_progress', 'conflict') THEN retry_count ELSE 0 END,
		   next_retry_at = CASE WHEN status IN ('in_progress', 'conflict') THEN next_retry_at ELSE NULL END,
		   version       = version + 1,
		   updated_at    = now()
		 WHERE id = $1
		 RETURNING status`, id).Scan(&status)
	if err != nil {
		return "", notFoundWrap(err, "requeue sync record %s", id)
	}
	switch status {
	case syncrecord.StatusInProgress:
		return syncrecord.RequeueDirty, nil
	case syncrecord.StatusConflict:
		return syncrecord.RequeueBlocked, nil
	default:
		return syncrecord.RequeuePending, nil
	}
}

// ClaimDueSyncRecords moves due records to in_progress under a fresh claim token.
func (s *Store) ClaimDueSyncRecords(ctx context.Context, p database.ClaimParams) ([]syncrecord.Record, error) {
	if len(p.EntityTypes) == 0 || len(p.SystemIDs) == 0 || p.Limit <= 0 {
		return []syncrecord.Record{}, nil
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	exclude := p.Exclude
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE sync_records SET
		   status      = 'in_progress',
		   claim_token = $1,
		   claimed_at  = $2,
		   dirty       = FALSE,
		   version     = version + 1,
		   updated_at  = $2
		 WHERE id IN (
		   SELECT id FROM sync_records
		   WHERE entity_type = ANY($3) AND external_system_id = ANY($4)
		     AND (status = 'pending'
		          OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $2)
		          OR (status = 'in_progress' AND claimed_at < $5))
		     AND NOT (id = ANY($7))
		   ORDER BY COALESCE(next_retry_at, updated_at)
		   LIMIT $6
		   FOR UPDATE SKIP LOCKED)
		 RETURNING `+recordColumns,
		uuid.NewString(), now, p.EntityTypes, p.SystemIDs, now.Add(-p.Lease), p.Limit, exclude)
	if err != nil {
		return nil, fmt.Errorf("claim due sync records: %w", err)
	}
	return collectRecords(rows)
}

// CompleteSyncRecord writes an attempt outcome if the claim token still holds.
func (s *Store) CompleteSyncRecord(ctx context.Context, id, claimToken string, out syncrecord.Outcome, open *conflict.Conflict) (*syncrecord.Record, error) {
	if err := out.CheckOutcome(); err != nil {
		return nil, fmt.Errorf("complete sync record %s: %w: %w", id, domain.ErrValidation, err)
	}
	if out.Status == syncrecord.StatusConflict && open == nil {
		return nil, fmt.Errorf("complete sync record %s: conflict outcome without conflict: %w", id, domain.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM sync_records
		 WHERE id = $1 AND claim_token = $2 AND status = 'in_progress'
		 FOR UPDATE`, id, claimToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("complete sync record %s: claim lost: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("complete sync record %s: %w", id, err)
	}

	conflictID := ""
	if out.Status == syncrecord.StatusConflict {
		open.SyncRecordID = cur.ID
		open.EntityType = cur.EntityType
		open.EntityID = cur.EntityID
		open.ExternalSystemID = cur.ExternalSystemID
		if err := upsertOpenConflict(ctx, tx, open); err != nil {
			return nil, err
		}
		conflictID = open.ID
	}

	requeue := cur.Dirty && out.Status != syncrecord.StatusConflict
	status, retryCount, nextRetry := out.Status, out.RetryCount, nullTime(out.NextRetryAt)
	if requeue {
		status, retryCount, nextRetry = syncrecord.StatusPending, 0, nil
	}
	resolutionID := cur.ResolutionID
	if !out.KeepResolution {
		resolutionID = ""
	}

	rec, err := scanRecord(tx.QueryRow(ctx,
		`UPDATE sync_records SET
		   status        = $2,
		   external_id   = CASE WHEN $3 <> '' THEN $3 ELSE external_id END,
		   error_message = $4,
		   retry_count   = $5,
		   next_retry_at = $6,
		   last_sync_at  = COALESCE($7, last_sync_at),
		   conflict_id   = $8,
		   resolution_id = $9,
		   dirty         = FALSE,
		   claim_token   = '',
		   claimed_at    = NULL,
		   version       = version + 1,
		   updated_at    = now()
		 WHERE id = $1
		 RETURNING `+recordColumns,
		id, string(status), out.ExternalID, out.ErrorMessage, retryCount, nextRetry,
		nullTime(out.LastSyncAt), conflictID, resolutionID))
	if err != nil {
		return nil, fmt.Errorf("complete sync record %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit complete sync record %s: %w", id, err)
	}
	return &rec, nil
}
