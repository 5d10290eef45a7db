package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/syncbridge/internal/port/database"
	"github.com/Strob0t/syncbridge/internal/port/entitystore"
)

var (
	_ database.Store         = (*Store)(nil)
	_ entitystore.Repository = (*EntityRepository)(nil)
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
