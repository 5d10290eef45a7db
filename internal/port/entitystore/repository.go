// Package entitystore defines the port to the application's business-record
// store.
package entitystore

import (
	"context"

	"github.com/Strob0t/syncbridge/internal/domain/entity"
)

// Repository reads and writes local business records as snapshots.
// Get returns an error wrapping domain.ErrNotFound when the record is gone.
type Repository interface {
	Get(ctx context.Context, entityType, id string) (entity.Snapshot, error)
	List(ctx context.Context, entityType string, filter entity.Filter) ([]entity.Snapshot, error)
	Update(ctx context.Context, entityType, id string, data entity.Snapshot) error
}
