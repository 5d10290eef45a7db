package messagequeue

import "time"

// SyncTriggerPayload is the schema for sync.trigger messages. An empty
// ExternalSystemID fans out to every active system.
type SyncTriggerPayload struct {
	EntityType       string `json:"entity_type"`
	EntityID         string `json:"entity_id"`
	ExternalSystemID string `json:"external_system_id,omitempty"`
}

// SyncEventPayload is the schema for sync.events.* messages.
type SyncEventPayload struct {
	SyncRecordID     string     `json:"sync_record_id"`
	EntityType       string     `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	ExternalSystemID string     `json:"external_system_id"`
	ExternalID       string     `json:"external_id,omitempty"`
	Status           string     `json:"status"`
	Error            string     `json:"error,omitempty"`
	RetryCount       int        `json:"retry_count"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	ConflictID       string     `json:"conflict_id,omitempty"`
	ConflictFields   []string   `json:"conflict_fields,omitempty"`
}
