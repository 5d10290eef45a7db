package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/syncbridge/internal/domain/syncpolicy"
)

const policyColumns = `auto_sync, sync_interval_seconds, max_retries, retry_delay_seconds,
	retry_max_delay_seconds, conflict_resolution, enabled_entity_types, updated_at`

func scanPolicy(row scannable) (syncpolicy.SyncPolicy, error) {
	var (
		p          syncpolicy.SyncPolicy
		resolution string
	)
	err := row.Scan(&p.AutoSync, &p.SyncIntervalSeconds, &p.MaxRetries, &p.RetryDelaySeconds,
		&p.RetryMaxDelaySeconds, &resolution, &p.EnabledEntityTypes, &p.UpdatedAt)
	p.ConflictResolution = syncpolicy.ConflictPolicy(resolution)
	p.EnabledEntityTypes = orEmpty(p.EnabledEntityTypes)
	return p, err
}

// --- Sync policy ---

// GetSyncPolicy returns the stored sync policy.
func (s *Store) GetSyncPolicy(ctx context.Context) (*syncpolicy.SyncPolicy, error) {
	p, err := scanPolicy(s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM sync_policy WHERE id = 1`))
	if err != nil {
		return nil, notFoundWrap(err, "get sync policy")
	}
	return &p, nil
}

// EnsureSyncPolicy seeds the policy row with defaults if absent and returns the stored policy.
func (s *Store) EnsureSyncPolicy(ctx context.Context, defaults syncpolicy.SyncPolicy) (*syncpolicy.SyncPolicy, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_policy (id, auto_sync, sync_interval_seconds, max_retries, retry_delay_seconds,
		                          retry_max_delay_seconds, conflict_resolution, enabled_entity_types)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		defaults.AutoSync, defaults.SyncIntervalSeconds, defaults.MaxRetries, defaults.RetryDelaySeconds,
		defaults.RetryMaxDelaySeconds, string(defaults.ConflictResolution), pgTextArray(defaults.EnabledEntityTypes))
	if err != nil {
		return nil, fmt.Errorf("seed sync policy: %w", err)
	}
	return s.GetSyncPolicy(ctx)
}

// SaveSyncPolicy overwrites the stored sync policy.
func (s *Store) SaveSyncPolicy(ctx context.Context, p *syncpolicy.SyncPolicy) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_policy (id, auto_sync, sync_interval_seconds, max_retries, retry_delay_seconds,
		                          retry_max_delay_seconds, conflict_resolution, enabled_entity_types)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   auto_sync = EXCLUDED.auto_sync,
		   sync_interval_seconds = EXCLUDED.sync_interval_seconds,
		   max_retries = EXCLUDED.max_retries,
		   retry_delay_seconds = EXCLUDED.retry_delay_seconds,
		   retry_max_delay_seconds = EXCLUDED.retry_max_delay_seconds,
		   conflict_resolution = EXCLUDED.conflict_resolution,
		   enabled_entity_types = EXCLUDED.enabled_entity_types,
		   updated_at = now()
		 RETURNING updated_at`,
		p.AutoSync, p.SyncIntervalSeconds, p.MaxRetries, p.RetryDelaySeconds,
		p.RetryMaxDelaySeconds, string(p.ConflictResolution), pgTextArray(p.EnabledEntityTypes),
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save sync policy: %w", err)
	}
	return nil
}
