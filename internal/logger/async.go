package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler moves record encoding off the calling goroutine so sync
// workers do not stall on a slow stdout. When the buffer is full, records
// below Warn are dropped and counted; warnings and errors are written
// synchronously so failed attempts always reach the log.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// asyncQueue is shared by every handler derived via WithAttrs/WithGroup.
type asyncQueue struct {
	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	ch      chan asyncEntry
	wg      sync.WaitGroup
	dropped atomic.Int64
}

type asyncEntry struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler starts workers draining a buffer of size records.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	q := &asyncQueue{ch: make(chan asyncEntry, size)}
	for range max(workers, 1) {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for e := range q.ch {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	if !h.q.closed {
		select {
		case h.q.ch <- asyncEntry{h: h.inner, rec: rec.Clone()}:
			h.q.mu.RUnlock()
			return nil
		default:
		}
	}
	closed := h.q.closed
	h.q.mu.RUnlock()

	if closed || rec.Level >= slog.LevelWarn {
		return h.inner.Handle(ctx, rec)
	}
	h.q.dropped.Add(1)
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// Dropped returns the number of records discarded because the buffer was full.
func (h *AsyncHandler) Dropped() int64 {
	return h.q.dropped.Load()
}

// Close flushes buffered records and stops the workers. Records logged
// afterwards are written synchronously. Close is idempotent.
func (h *AsyncHandler) Close() {
	h.q.mu.Lock()
	if h.q.closed {
		h.q.mu.Unlock()
		return
	}
	h.q.closed = true
	close(h.q.ch)
	h.q.mu.Unlock()
	h.q.wg.Wait()
}
