// Package syncpolicy defines the process-wide synchronization policy.
package syncpolicy

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/syncbridge/internal/domain"
)

// ConflictPolicy selects how a detected divergence is settled.
type ConflictPolicy string

const (
	ConflictManual       ConflictPolicy = "manual"
	ConflictLocalWins    ConflictPolicy = "local_wins"
	ConflictExternalWins ConflictPolicy = "external_wins"
)

// Valid reports whether p is a known policy.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictManual, ConflictLocalWins, ConflictExternalWins:
		return true
	}
	return false
}

// SyncPolicy is the single deployment-wide policy row. Values are copied by
// the orchestrator at the start of each pass and never mutated in flight.
type SyncPolicy struct {
	AutoSync             bool           `json:"auto_sync"`
	SyncIntervalSeconds  int            `json:"sync_interval_seconds"`
	MaxRetries           int            `json:"max_retries"`
	RetryDelaySeconds    int            `json:"retry_delay_seconds"`
	RetryMaxDelaySeconds int            `json:"retry_max_delay_seconds"`
	ConflictResolution   ConflictPolicy `json:"conflict_resolution"`
	EnabledEntityTypes   []string       `json:"enabled_entity_types"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Interval returns the scheduling interval.
func (p SyncPolicy) Interval() time.Duration {
	return time.Duration(p.SyncIntervalSeconds) * time.Second
}

// RetryDelay returns the base retry delay.
func (p SyncPolicy) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds) * time.Second
}

// RetryMaxDelay returns the backoff ceiling.
func (p SyncPolicy) RetryMaxDelay() time.Duration {
	return time.Duration(p.RetryMaxDelaySeconds) * time.Second
}

// Enabled reports whether entityType is synchronized.
func (p SyncPolicy) Enabled(entityType string) bool {
	return slices.Contains(p.EnabledEntityTypes, entityType)
}

// Snapshot returns a deep copy safe to hand to concurrent workers.
func (p SyncPolicy) Snapshot() SyncPolicy {
	p.EnabledEntityTypes = slices.Clone(p.EnabledEntityTypes)
	return p
}

// Validate checks the policy bounds.
func (p *SyncPolicy) Validate() error {
	if p.SyncIntervalSeconds < 1 {
		return fmt.Errorf("%w: sync_interval_seconds must be >= 1", domain.ErrValidation)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", domain.ErrValidation)
	}
	if p.RetryDelaySeconds < 1 {
		return fmt.Errorf("%w: retry_delay_seconds must be >= 1", domain.ErrValidation)
	}
	if p.RetryMaxDelaySeconds < p.RetryDelaySeconds {
		return fmt.Errorf("%w: retry_max_delay_seconds must be >= retry_delay_seconds", domain.ErrValidation)
	}
	if !p.ConflictResolution.Valid() {
		return fmt.Errorf("%w: invalid conflict_resolution %q", domain.ErrValidation, p.ConflictResolution)
	}
	for _, et := range p.EnabledEntityTypes {
		if et == "" {
			return fmt.Errorf("%w: enabled_entity_types contains an empty entry", domain.ErrValidation)
		}
	}
	return nil
}

// UpdateRequest carries partial policy updates.
type UpdateRequest struct {
	AutoSync             *bool           `json:"auto_sync,omitempty"`
	SyncIntervalSeconds  *int            `json:"sync_interval_seconds,omitempty"`
	MaxRetries           *int            `json:"max_retries,omitempty"`
	RetryDelaySeconds    *int            `json:"retry_delay_seconds,omitempty"`
	RetryMaxDelaySeconds *int            `json:"retry_max_delay_seconds,omitempty"`
	ConflictResolution   *ConflictPolicy `json:"conflict_resolution,omitempty"`
	EnabledEntityTypes   []string        `json:"enabled_entity_types,omitempty"`
}

// Apply returns p with the update merged in.
func (r *UpdateRequest) Apply(p SyncPolicy) SyncPolicy {
	p = p.Snapshot()
	if r.AutoSync != nil {
		p.AutoSync = *r.AutoSync
	}
	if r.SyncIntervalSeconds != nil {
		p.SyncIntervalSeconds = *r.SyncIntervalSeconds
	}
	if r.MaxRetries != nil {
		p.MaxRetries = *r.MaxRetries
	}
	if r.RetryDelaySeconds != nil {
		p.RetryDelaySeconds = *r.RetryDelaySeconds
	}
	if r.RetryMaxDelaySeconds != nil {
		p.RetryMaxDelaySeconds = *r.RetryMaxDelaySeconds
	}
	if r.ConflictResolution != nil {
		p.ConflictResolution = *r.ConflictResolution
	}
	if r.EnabledEntityTypes != nil {
		p.EnabledEntityTypes = slices.Clone(r.EnabledEntityTypes)
	}
	return p
}
