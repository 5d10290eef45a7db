package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/syncbridge/internal/config"
	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
)

// EntityRepository reads and writes the business application's own tables.
// Rows are exchanged as JSON objects (to_jsonb / jsonb_populate_record), so
// the repository needs no per-type Go structs.
type EntityRepository struct {
	pool   *pgxpool.Pool
	tables map[string]config.EntityTable

	mu      sync.Mutex
	columns map[string][]string // table -> column names
}

// NewEntityRepository maps entity types onto tables.
func NewEntityRepository(pool *pgxpool.Pool, tables map[string]config.EntityTable) *EntityRepository {
	return &EntityRepository{pool: pool, tables: tables, columns: make(map[string][]string)}
}

type tableRef struct {
	name  string // sanitized, possibly schema-qualified
	raw   string
	idCol string // sanitized
	rawID string
}

func (r *EntityRepository) table(entityType string) (tableRef, error) {
	t, ok := r.tables[entityType]
	if !ok || t.Table == "" {
		return tableRef{}, fmt.Errorf("no table mapped for entity type %q: %w", entityType, domain.ErrConfiguration)
	}
	idCol := t.IDColumn
	if idCol == "" {
		idCol = "id"
	}
	return tableRef{
		name:  pgx.Identifier(strings.Split(t.Table, ".")).Sanitize(),
		raw:   t.Table,
		idCol: pgx.Identifier{idCol}.Sanitize(),
		rawID: idCol,
	}, nil
}

// Get returns the row as a snapshot keyed by column name.
func (r *EntityRepository) Get(ctx context.Context, entityType, id string) (entity.Snapshot, error) {
	t, err := r.table(entityType)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = r.pool.QueryRow(ctx,
		`SELECT to_jsonb(t) FROM `+t.name+` t WHERE t.`+t.idCol+`::text = $1`, id).Scan(&raw)
	if err != nil {
		return nil, notFoundWrap(err, "get %s %s", entityType, id)
	}
	snap, err := entity.UnmarshalSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", entityType, id, err)
	}
	return snap, nil
}

// List pages through rows ordered by id.
func (r *EntityRepository) List(ctx context.Context, entityType string, f entity.Filter) ([]entity.Snapshot, error) {
	t, err := r.table(entityType)
	if err != nil {
		return nil, err
	}
	var ids []string
	if len(f.IDs) > 0 {
		ids = f.IDs
	}
	rows, err := r.pool.Query(ctx,
		`SELECT to_jsonb(t) FROM `+t.name+` t
		 WHERE ($1::text[] IS NULL OR t.`+t.idCol+`::text = ANY($1))
		   AND t.`+t.idCol+`::text > $2
		 ORDER BY t.`+t.idCol+`::text
		 LIMIT $3`, ids, f.AfterID, listLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []entity.Snapshot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entityType, err)
		}
		snap, err := entity.UnmarshalSnapshot(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", entityType, err)
		}
		out = append(out, snap)
	}
	return orEmpty(out), rows.Err()
}

// Update overwrites the columns present in data. Keys that are not columns
// of the table, and the id column itself, are ignored.
func (r *EntityRepository) Update(ctx context.Context, entityType, id string, data entity.Snapshot) error {
	t, err := r.table(entityType)
	if err != nil {
		return err
	}
	cols, err := r.tableColumns(ctx, t)
	if err != nil {
		return err
	}

	var sets []string
	for _, c := range cols {
		if c == t.rawID {
			continue
		}
		if _, ok := data[c]; !ok {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		sets = append(sets, q+" = r."+q)
	}
	if len(sets) == 0 {
		return nil
	}

	payload, err := data.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", entityType, id, err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE `+t.name+` AS t SET `+strings.Join(sets, ", ")+`
		 FROM jsonb_populate_record(NULL::`+t.name+`, $1::jsonb) AS r
		 WHERE t.`+t.idCol+`::text = $2`, payload, id)
	return execExpectOne(tag, err, "update %s %s", entityType, id)
}

func (r *EntityRepository) tableColumns(ctx context.Context, t tableRef) ([]string, error) {
	r.mu.Lock()
	cols, ok := r.columns[t.raw]
	r.mu.Unlock()
	if ok {
		return cols, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT attname FROM pg_attribute
		 WHERE attrelid = $1::regclass AND attnum > 0 AND NOT attisdropped
		 ORDER BY attnum`, t.name)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", t.raw, err)
	}
	cols, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", t.raw, err)
	}
	slices.Sort(cols)

	r.mu.Lock()
	r.columns[t.raw] = cols
	r.mu.Unlock()
	return cols, nil
}
