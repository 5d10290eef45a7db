package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Strob0t/syncbridge/internal/domain"
	"github.com/Strob0t/syncbridge/internal/domain/system"
)

const systemColumns = `id, name, type, base_url, credential_ref, is_active, config,
	webhook_secret_ref, created_at, updated_at`

func scanSystem(row scannable) (system.ExternalSystem, error) {
	var (
		sys        system.ExternalSystem
		configJSON []byte
	)
	err := row.Scan(&sys.ID, &sys.Name, &sys.Type, &sys.BaseURL, &sys.CredentialRef, &sys.IsActive,
		&configJSON, &sys.WebhookSecretRef, &sys.CreatedAt, &sys.UpdatedAt)
	if err != nil {
		return sys, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &sys.Config); err != nil {
			return sys, fmt.Errorf("unmarshal system config: %w", err)
		}
	}
	return sys, nil
}

func marshalConfig(cfg map[string]string) ([]byte, error) {
	if cfg == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(cfg)
}

// --- External systems ---

// ListExternalSystems returns all external systems ordered by name.
func (s *Store) ListExternalSystems(ctx context.Context) ([]system.ExternalSystem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+systemColumns+` FROM external_systems ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list external systems: %w", err)
	}
	defer rows.Close()

	var out []system.ExternalSystem
	for rows.Next() {
		sys, err := scanSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan external system: %w", err)
		}
		out = append(out, sys)
	}
	return orEmpty(out), rows.Err()
}

// GetExternalSystem returns an external system by ID.
func (s *Store) GetExternalSystem(ctx context.Context, id string) (*system.ExternalSystem, error) {
	sys, err := scanSystem(s.pool.QueryRow(ctx,
		`SELECT `+systemColumns+` FROM external_systems WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get external system %s", id)
	}
	return &sys, nil
}

// CreateExternalSystem inserts an external system and sets its ID and timestamps.
func (s *Store) CreateExternalSystem(ctx context.Context, sys *system.ExternalSystem) error {
	configJSON, err := marshalConfig(sys.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if sys.ID == "" {
		sys.ID = uuid.NewString()
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO external_systems (id, name, type, base_url, credential_ref, is_active, config, webhook_secret_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		sys.ID, sys.Name, sys.Type, sys.BaseURL, sys.CredentialRef, sys.IsActive, configJSON, sys.WebhookSecretRef,
	).Scan(&sys.CreatedAt, &sys.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create external system %s: %w", sys.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create external system: %w", err)
	}
	return nil
}

// UpdateExternalSystem overwrites an external system.
func (s *Store) UpdateExternalSystem(ctx context.Context, sys *system.ExternalSystem) error {
	configJSON, err := marshalConfig(sys.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`UPDATE external_systems SET name = $2, type = $3, base_url = $4, credential_ref = $5,
		        is_active = $6, config = $7, webhook_secret_ref = $8, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		sys.ID, sys.Name, sys.Type, sys.BaseURL, sys.CredentialRef, sys.IsActive, configJSON, sys.WebhookSecretRef,
	).Scan(&sys.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update external system %s", sys.ID)
	}
	return nil
}

// DeleteExternalSystem removes an external system by ID.
func (s *Store) DeleteExternalSystem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM external_systems WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete external system %s", id)
}
