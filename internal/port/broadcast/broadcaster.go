// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event types pushed to operator dashboards.
const (
	EventSyncRecord       = "sync.record"       // attempt outcome for one record
	EventConflictOpened   = "conflict.opened"   // manual conflict awaiting resolution
	EventConflictResolved = "conflict.resolved" // operator resolved a conflict
	EventSystemChanged    = "system.changed"    // external system created, updated or deleted
	EventPolicyChanged    = "policy.changed"
)
