package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/port/database"
)

// RecordService answers operator queries about sync state.
type RecordService struct {
	store database.Store
}

// NewRecordService creates a record query service.
func NewRecordService(store database.Store) *RecordService {
	return &RecordService{store: store}
}

// List returns records matching the filter, most recently updated first.
func (s *RecordService) List(ctx context.Context, filter syncrecord.ListFilter) ([]syncrecord.Record, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, filter.Status)
	}
	return s.store.ListSyncRecords(ctx, filter)
}

// Get returns one record.
func (s *RecordService) Get(ctx context.Context, id string) (*syncrecord.Record, error) {
	return s.store.GetSyncRecord(ctx, id)
}
