package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler moves record formatting off the decision path. Records below
// slog.LevelError are dropped when the buffer is full; errors (failed
// payments, store failures) wait for space so they are never lost.
type AsyncHandler struct {
	shared *asyncState
	inner  slog.Handler
}

type asyncState struct {
	ch      chan asyncRecord
	wg      sync.WaitGroup
	dropped atomic.Int64
	mu      sync.RWMutex // guards closed against sends on a closed channel
	closed  bool
	once    sync.Once
	final   slog.Handler
}

// asyncRecord pairs a record with the handler it was logged through, so
// records from loggers with different attrs share one buffer.
type asyncRecord struct {
	h   slog.Handler
	rec slog.Record
}

// NewAsyncHandler creates an AsyncHandler with the given buffer capacity and worker count.
func NewAsyncHandler(inner slog.Handler, bufferSize, workers int) *AsyncHandler {
	if workers < 1 {
		workers = 1
	}
	s := &asyncState{ch: make(chan asyncRecord, bufferSize), final: inner}
	for range workers {
		s.wg.Add(1)
		go s.drain()
	}
	return &AsyncHandler{shared: s, inner: inner}
}

func (s *asyncState) drain() {
	defer s.wg.Done()
	for r := range s.ch {
		_ = r.h.Handle(context.Background(), r.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. After Close, records are written synchronously.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.shared.mu.RLock()
	defer h.shared.mu.RUnlock()
	if h.shared.closed {
		return h.inner.Handle(ctx, rec)
	}
	r := asyncRecord{h: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelError {
		h.shared.ch <- r
		return nil
	}
	select {
	case h.shared.ch <- r:
	default:
		h.shared.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same buffer but wrapping a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{shared: h.shared, inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a handler sharing the same buffer but wrapping a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{shared: h.shared, inner: h.inner.WithGroup(name)}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.shared.dropped.Load()
}

// Close drains the buffer, waits for the workers and reports the number of
// dropped records, if any. Safe to call more than once.
func (h *AsyncHandler) Close() {
	s := h.shared
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		if n := s.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = s.final.Handle(context.Background(), rec)
		}
	})
}
