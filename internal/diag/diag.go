// Package diag is the pipeline's latency tracer (an ambient/cross-cutting
// package per SPEC_FULL.md §2, not one of the numbered spec components):
// it records per-span latency for the ASR, translation, and advanced-
// feature stages of one session. Adapted from the teacher's
// trace.Tracer/trace.Store async-drain design — a buffered channel, one
// background goroutine serializing writes — but re-platformed from
// SQLite/Postgres rows onto an append-only JSON Lines file, so the
// diagnostics trail lives next to the durable session store (internal/store)
// instead of requiring a database the rest of this spec doesn't carry.
package diag

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

// Span is one recorded stage execution.
type Span struct {
	Name       string    `json:"name"`
	SegmentID  string    `json:"segment_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Tracer writes spans asynchronously via a buffered channel, so a slow
// or momentarily unavailable disk never stalls the hot path it's
// measuring. All methods are nil-safe (no-op on a nil *Tracer), matching
// the teacher's tracer so callers never need a presence check.
type Tracer struct {
	path string
	ch   chan Span
	done chan struct{}
}

// New creates a Tracer appending JSON Lines span records to path. bufSize
// bounds how many spans can queue before Record blocks; 0 uses 256.
func New(path string, bufSize int) *Tracer {
	if bufSize <= 0 {
		bufSize = 256
	}
	t := &Tracer{path: path, ch: make(chan Span, bufSize), done: make(chan struct{})}
	go t.drain()
	return t
}

// Record enqueues a span for asynchronous append. Non-blocking up to the
// channel's buffer; beyond that it applies backpressure to the caller,
// which is preferable to silently dropping diagnostic data.
func (t *Tracer) Record(s Span) {
	if t == nil {
		return
	}
	t.ch <- s
}

// Span starts timing a named stage and returns a function that records
// its completion, the shape most call sites want:
//
//	done := tracer.Span("translate_realtime", segmentID)
//	...
//	done(err)
func (t *Tracer) Span(name, segmentID string) func(error) {
	start := time.Now()
	return func(err error) {
		status := "ok"
		errMsg := ""
		if err != nil {
			status = "error"
			errMsg = err.Error()
		}
		t.Record(Span{
			Name:       name,
			SegmentID:  segmentID,
			StartedAt:  start,
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
			Status:     status,
			Error:      errMsg,
		})
	}
}

func (t *Tracer) drain() {
	defer close(t.done)
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("diag: open trace file", "path", t.path, "error", err)
		for range t.ch {
			// drain without writing so Close still terminates cleanly
		}
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for span := range t.ch {
		if err := enc.Encode(span); err != nil {
			slog.Error("diag: write span", "error", err)
		}
	}
}

// Close stops accepting new spans and waits for the background writer to
// flush everything queued. Callers must call Close when a session ends;
// otherwise buffered spans are lost and the goroutine leaks.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}
