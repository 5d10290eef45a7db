package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
)

const conflictColumns = `id, sync_record_id, entity_type, entity_id, external_system_id,
	local_data, external_data, conflict_fields, created_at, updated_at,
	resolved_at, resolution, resolved_data, resolved_by`

func scanConflict(row scannable) (conflict.Conflict, error) {
	var (
		c                                 conflict.Conflict
		localJSON, externalJSON, resolved []byte
		resolution                        string
	)
	err := row.Scan(&c.ID, &c.SyncRecordID, &c.EntityType, &c.EntityID, &c.ExternalSystemID,
		&localJSON, &externalJSON, &c.ConflictFields, &c.CreatedAt, &c.UpdatedAt,
		&c.ResolvedAt, &resolution, &resolved, &c.ResolvedBy)
	if err != nil {
		return c, err
	}
	c.Resolution = conflict.Resolution(resolution)
	if c.LocalData, err = entity.UnmarshalSnapshot(localJSON); err != nil {
		return c, fmt.Errorf("unmarshal local_data: %w", err)
	}
	if c.ExternalData, err = entity.UnmarshalSnapshot(externalJSON); err != nil {
		return c, fmt.Errorf("unmarshal external_data: %w", err)
	}
	if len(resolved) > 0 {
		if c.ResolvedData, err = entity.UnmarshalSnapshot(resolved); err != nil {
			return c, fmt.Errorf("unmarshal resolved_data: %w", err)
		}
	}
	c.ConflictFields = orEmpty(c.ConflictFields)
	return c, nil
}

// upsertOpenConflict refreshes the record's open conflict or creates one,
// filling in c.ID and timestamps.
func upsertOpenConflict(ctx context.Context, tx pgx.Tx, c *conflict.Conflict) error {
	localJSON, err := c.LocalData.Marshal()
	if err != nil {
		return fmt.Errorf("marshal local_data: %w", err)
	}
	externalJSON, err := c.ExternalData.Marshal()
	if err != nil {
		return fmt.Errorf("marshal external_data: %w", err)
	}

	err = tx.QueryRow(ctx,
		`UPDATE conflicts SET local_data = $2, external_data = $3, conflict_fields = $4, updated_at = now()
		 WHERE sync_record_id = $1 AND resolved_at IS NULL
		 RETURNING id, created_at, updated_at`,
		c.SyncRecordID, localJSON, externalJSON, pgTextArray(c.ConflictFields),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("refresh open conflict for %s: %w", c.SyncRecordID, err)
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO conflicts (id, sync_record_id, entity_type, entity_id, external_system_id,
		                        local_data, external_data, conflict_fields)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		c.ID, c.SyncRecordID, c.EntityType, c.EntityID, c.ExternalSystemID,
		localJSON, externalJSON, pgTextArray(c.ConflictFields),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create conflict for %s: %w", c.SyncRecordID, domain.ErrConflict)
		}
		return fmt.Errorf("create conflict for %s: %w", c.SyncRecordID, err)
	}
	return nil
}

// --- Conflicts ---

// GetConflict returns a conflict by ID.
func (s *Store) GetConflict(ctx context.Context, id string) (*conflict.Conflict, error) {
	c, err := scanConflict(s.pool.QueryRow(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get conflict %s", id)
	}
	return &c, nil
}

// ListConflicts returns conflicts matching the filter, newest first.
func (s *Store) ListConflicts(ctx context.Context, f conflict.ListFilter) ([]conflict.Conflict, error) {
	var (
		where []string
		args  []any
	)
	switch f.State {
	case conflict.StateResolved:
		where = append(where, "resolved_at IS NOT NULL")
	case conflict.StateAll:
	default:
		where = append(where, "resolved_at IS NULL")
	}
	if f.ExternalSystemID != "" {
		args = append(args, f.ExternalSystemID)
		where = append(where, fmt.Sprintf("external_system_id = $%d", len(args)))
	}
	args = append(args, listLimit(f.Limit))

	q := `SELECT ` + conflictColumns + ` FROM conflicts`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []conflict.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		out = append(out, c)
	}
	return orEmpty(out), rows.Err()
}

// ResolveConflict marks an open conflict resolved and releases its sync record to pending.
func (s *Store) ResolveConflict(ctx context.Context, id string, req conflict.ResolveRequest) (*conflict.Conflict, error) {
	var resolvedJSON []byte
	if len(req.ResolvedData) > 0 {
		b, err := req.ResolvedData.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal resolved_data: %w", err)
		}
		resolvedJSON = b
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanConflict(tx.QueryRow(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundWrap(err, "resolve conflict %s", id)
	}
	if !cur.Open() {
		return nil, fmt.Errorf("resolve conflict %s: already resolved: %w", id, domain.ErrConflict)
	}

	c, err := scanConflict(tx.QueryRow(ctx,
		`UPDATE conflicts SET resolved_at = now(), resolution = $2, resolved_data = $3,
		        resolved_by = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+conflictColumns,
		id, string(req.Resolution), resolvedJSON, req.ResolvedBy))
	if err != nil {
		return nil, fmt.Errorf("resolve conflict %s: %w", id, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sync_records SET status = 'pending', resolution_id = $2, conflict_id = '',
		        retry_count = 0, next_retry_at = NULL, error_message = '',
		        version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'conflict' AND conflict_id = $2`,
		cur.SyncRecordID, id)
	if err != nil {
		return nil, fmt.Errorf("release sync record %s: %w", cur.SyncRecordID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("release sync record %s: not awaiting conflict %s: %w", cur.SyncRecordID, id, domain.ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit resolve conflict %s: %w", id, err)
	}
	return &c, nil
}
