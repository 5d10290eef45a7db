package logger

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	syncRecordIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithSyncRecordID tags ctx with the sync record being processed.
func WithSyncRecordID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, syncRecordIDKey, id)
}

// SyncRecordID extracts the sync record id, or "".
func SyncRecordID(ctx context.Context) string {
	id, _ := ctx.Value(syncRecordIDKey).(string)
	return id
}
