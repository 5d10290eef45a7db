// Package adapter defines the port for external accounting systems: the
// vendor adapter contract, the vendor catalog, and the per-system registry.
package adapter

import (
	"context"
	"net/http"

	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/domain/webhook"
)

// PushRequest carries a local snapshot to the external system. An empty
// ExternalID creates the record; otherwise the external record is overwritten.
type PushRequest struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ExternalID string          `json:"external_id,omitempty"`
	Data       entity.Snapshot `json:"data"`
}

// PushResult is returned by a successful push.
type PushResult struct {
	ExternalID string `json:"external_id"`
}

// PullRequest identifies an external record.
type PullRequest struct {
	EntityType string `json:"entity_type"`
	ExternalID string `json:"external_id"`
}

// Adapter is the port interface for one vendor's accounting API.
// Push and Pull return *Error values so callers can classify failures.
type Adapter interface {
	// Push creates or overwrites the external copy of a local record.
	Push(ctx context.Context, req PushRequest) (PushResult, error)

	// Pull fetches the external copy of a record.
	Pull(ctx context.Context, req PullRequest) (entity.Snapshot, error)

	// TestConnection reports whether the remote system is reachable and
	// accepts the configured credentials. It never mutates remote state.
	TestConnection(ctx context.Context) bool
}

// WebhookNormalizer is an optional adapter capability that converts a
// vendor-specific webhook payload into a change notification.
type WebhookNormalizer interface {
	NormalizeWebhook(header http.Header, body []byte) (webhook.ChangeNotification, error)
}
