package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the handler that must format it, so attrs and
// groups bound by WithAttrs and WithGroup survive the queue.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// queue is shared by an AsyncHandler and everything derived from it.
type queue struct {
	ch      chan entry
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Int64
}

// AsyncHandler moves formatting and writing off the caller's goroutine.
// Records below Error are dropped when the buffer is full; Error records
// wait for room.
type AsyncHandler struct {
	inner slog.Handler
	q     *queue
}

// NewAsyncHandler starts workers draining a buffer of chanSize records.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	q := &queue{ch: make(chan entry, chanSize)}
	if workers < 1 {
		workers = 1
	}
	for range workers {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *queue) drain() {
	defer q.wg.Done()
	for e := range q.ch {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. After Close it writes synchronously.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.q.closed.Load() {
		return h.inner.Handle(ctx, rec)
	}
	e := entry{h: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelError {
		defer func() {
			// Close raced us; the record still gets written.
			if recover() != nil {
				_ = h.inner.Handle(ctx, rec)
			}
		}()
		h.q.ch <- e
		return nil
	}
	select {
	case h.q.ch <- e:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of records dropped on a full buffer.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains the buffer and stops the workers. Derived handlers share the
// buffer, so only the first Close has an effect.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		h.q.closed.Store(true)
		close(h.q.ch)
		h.q.wg.Wait()
	})
}
