// Package logger provides structured logging setup for syncbridge.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/syncbridge/internal/config"
)

const (
	asyncBuffer  = 4096
	asyncWorkers = 2
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record and
// request/sync-record ids lifted from the context. The returned Closer
// flushes the async handler when enabled.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return NewWithLevel(cfg, nil)
}

// NewWithLevel is New with an externally owned level so the level can be
// changed at runtime (config reload). A nil level is derived from cfg.
func NewWithLevel(cfg config.Logging, level *slog.LevelVar) (*slog.Logger, Closer) {
	if level == nil {
		level = new(slog.LevelVar)
		level.Set(parseLevel(cfg.Level))
	}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, asyncBuffer, asyncWorkers)
		handler, closer = ah, ah
	}

	return slog.New(contextHandler{handler}).With("service", cfg.Service), closer
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(s string) slog.Level { return parseLevel(s) }

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler adds correlation ids stored in the context to each record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if id := SyncRecordID(ctx); id != "" {
		rec.AddAttrs(slog.String("sync_record_id", id))
	}
	return h.Handler.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
