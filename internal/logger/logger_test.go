package logger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Strob0t/syncbridge/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	// Empty context returns empty string
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	// Set and retrieve
	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestSyncRecordIDContext(t *testing.T) {
	ctx := WithSyncRecordID(context.Background(), "rec-1")
	if got := SyncRecordID(ctx); got != "rec-1" {
		t.Errorf("expected rec-1, got %q", got)
	}
	if got := RequestID(ctx); got != "" {
		t.Errorf("request id must not alias sync record id, got %q", got)
	}
}

func TestContextHandlerAddsIDs(t *testing.T) {
	inner := &recordingHandler{}
	h := contextHandler{inner}

	ctx := WithSyncRecordID(WithRequestID(context.Background(), "req-9"), "rec-9")
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "attempt", 0)
	if err := h.Handle(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got := map[string]string{}
	inner.records[0].Attrs(func(a slog.Attr) bool {
		got[a.Key] = a.Value.String()
		return true
	})
	if got["request_id"] != "req-9" || got["sync_record_id"] != "rec-9" {
		t.Errorf("attrs = %v", got)
	}
}
