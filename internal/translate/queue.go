// Package translate implements the bounded priority translation queue
// (spec §4.3 / component C3), the purpose-keyed backend router it
// dispatches through, and the streaming LLM backends behind it. The
// queue itself is adapted from the teacher's pipeline.Router[T] dispatch
// pattern generalized with three priority buckets, a concurrency cap,
// and the typed backpressure/timeout errors the teacher's direct
// request/response client never needed.
package translate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/metrics"
	"github.com/ryouen/univoice-pipeline/internal/models"
	"github.com/ryouen/univoice-pipeline/internal/types"
)

// ErrQueueFull is returned by Enqueue when the request's priority bucket
// is at capacity (spec §4.3 backpressure).
var ErrQueueFull = errors.New("translate: queue full")

// ErrTimeout is returned (via Result.Err) when a request exceeds its
// per-request timeout.
var ErrTimeout = errors.New("translate: request timed out")

// QueueConfig tunes the bounded priority queue.
type QueueConfig struct {
	HighCapacity   int
	NormalCapacity int
	LowCapacity    int
	Concurrency    int
	RequestTimeout time.Duration
}

// DefaultQueueConfig matches the defaults named in spec §4.3.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		HighCapacity:   32,
		NormalCapacity: 64,
		LowCapacity:    100,
		Concurrency:    3,
		RequestTimeout: 30 * time.Second,
	}
}

// job is one accepted request plus the channel its terminal Result is
// delivered on.
type job struct {
	req    types.TranslationRequest
	result chan Result
}

// Result is the terminal outcome of an enqueued request: exactly one of
// Value or Err is set, matching spec §3's "exactly one terminal event
// per accepted request" invariant.
type Result struct {
	Value types.TranslationResult
	Err   error
}

// DeltaFunc receives incremental target-text chunks as a request's
// translation streams in. The realtime tier's caller publishes these
// onto the event bus (C10); the history tier typically ignores them.
type DeltaFunc func(segmentID, delta string)

// Handler performs the actual translation for one accepted request. The
// purpose-keyed backend router (internal/models + Router[Backend]) is
// the production Handler; tests substitute a stub.
type Handler func(ctx context.Context, req types.TranslationRequest) (string, error)

// Queue is the bounded, priority-bucketed translation dispatcher (C3).
// Exactly one terminal event per accepted request is produced, either a
// successful Result or a Result carrying a typed error; the queue never
// silently drops an accepted job.
type Queue struct {
	cfg     QueueConfig
	handler Handler
	onDelta DeltaFunc

	sem chan struct{} // concurrency cap across all priorities

	mu       sync.Mutex
	buckets  map[types.Priority]chan job
	capacity map[types.Priority]int

	wg sync.WaitGroup
}

// NewQueue creates a Queue. SetHandler must be called before Enqueue is
// used; a nil handler is a programmer error, not a runtime condition to
// guard against per request.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	q := &Queue{
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.Concurrency),
		buckets:  make(map[types.Priority]chan job),
		capacity: map[types.Priority]int{types.PriorityHigh: cfg.HighCapacity, types.PriorityNormal: cfg.NormalCapacity, types.PriorityLow: cfg.LowCapacity},
	}
	for p, cap := range q.capacity {
		if cap <= 0 {
			cap = 100
		}
		q.buckets[p] = make(chan job, cap)
	}
	for i := 0; i < cfg.Concurrency; i++ {
		go q.worker()
	}
	return q
}

// SetHandler installs the function used to actually perform a
// translation. Exposed as a setter (rather than a constructor arg) to
// match spec §4.3's contract shape (`set_handler(fn)`).
func (q *Queue) SetHandler(h Handler) { q.handler = h }

// SetDeltaFunc installs the streaming-delta side channel (spec §4.3:
// "streaming deltas are emitted via a side channel ... owned by the
// handler"). The Queue only stores fn; dispatch never calls it. Deltas
// reach callers through the handler itself (BackendRouter's DeltaFunc).
func (q *Queue) SetDeltaFunc(fn DeltaFunc) { q.onDelta = fn }

// Enqueue accepts req for translation and returns its terminal Result
// once available, or ErrQueueFull immediately if req's priority bucket
// is saturated. The same-language short-circuit (spec §4.3) is resolved
// here, before the request ever touches a bucket, so it incurs no LLM
// call and no queue depth.
func (q *Queue) Enqueue(ctx context.Context, req types.TranslationRequest) (types.TranslationResult, error) {
	if req.SourceLanguage == req.TargetLanguage {
		return types.TranslationResult{
			SegmentID:  req.SegmentID,
			TargetText: req.SourceText,
			IsFinal:    true,
			Confidence: 1.0,
		}, nil
	}

	bucket, ok := q.buckets[req.Priority]
	if !ok {
		bucket = q.buckets[types.PriorityNormal]
	}

	j := job{req: req, result: make(chan Result, 1)}
	select {
	case bucket <- j:
		metrics.QueueDepth.WithLabelValues(string(req.Priority)).Inc()
	default:
		metrics.QueueRejected.WithLabelValues(string(req.Priority)).Inc()
		return types.TranslationResult{}, ErrQueueFull
	}

	select {
	case res := <-j.result:
		if res.Err != nil {
			return types.TranslationResult{}, res.Err
		}
		return res.Value, nil
	case <-ctx.Done():
		return types.TranslationResult{}, ctx.Err()
	}
}

// worker pulls one job at a time, always preferring high over normal
// over low (spec §4.3 priority buckets; FIFO within a bucket since each
// channel is itself FIFO).
func (q *Queue) worker() {
	for {
		j, ok := q.nextJob()
		if !ok {
			return
		}
		q.wg.Add(1)
		q.dispatch(j)
		q.wg.Done()
	}
}

// nextJob is a non-blocking priority scan: High is checked first, then
// Normal, each given deterministic "first dibs" before falling into a
// blocking 3-way select. Without this, Go's uniform-random selection
// among ready select cases would let a backlogged Low bucket win against
// a freshly arrived Normal job roughly half the time, violating the
// queue's priority ordering between those two tiers.
func (q *Queue) nextJob() (job, bool) {
	for {
		select {
		case j := <-q.buckets[types.PriorityHigh]:
			metrics.QueueDepth.WithLabelValues(string(types.PriorityHigh)).Dec()
			return j, true
		default:
		}
		select {
		case j := <-q.buckets[types.PriorityNormal]:
			metrics.QueueDepth.WithLabelValues(string(types.PriorityNormal)).Dec()
			return j, true
		default:
		}
		select {
		case j := <-q.buckets[types.PriorityHigh]:
			metrics.QueueDepth.WithLabelValues(string(types.PriorityHigh)).Dec()
			return j, true
		case j := <-q.buckets[types.PriorityNormal]:
			metrics.QueueDepth.WithLabelValues(string(types.PriorityNormal)).Dec()
			return j, true
		case j := <-q.buckets[types.PriorityLow]:
			metrics.QueueDepth.WithLabelValues(string(types.PriorityLow)).Dec()
			return j, true
		}
	}
}

func (q *Queue) dispatch(j job) {
	timeout := q.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	target, err := q.handler(ctx, j.req)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		j.result <- Result{Err: err}
		return
	}

	j.result <- Result{Value: types.TranslationResult{
		SegmentID:    j.req.SegmentID,
		TargetText:   target,
		IsFinal:      true,
		Confidence:   0.0,
		FirstPaintMs: elapsed.Milliseconds(),
		CompleteMs:   elapsed.Milliseconds(),
	}}
}

// Drain waits up to grace for in-flight jobs to finish. It does not stop
// accepting new jobs; callers that want a hard stop should also close
// off enqueue paths (the orchestrator's stopListening command does, by
// transitioning C4 to `stopping` first).
func (q *Queue) Drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

// BackendRouter adapts internal/models.Table lookups plus a Router[Backend]
// into a translate.Handler, so the queue stays backend-agnostic (spec
// §4.3: "Handler contract: receives a request and must return final
// target_text").
type BackendRouter struct {
	table   *models.Table
	router  *Router[Backend]
	purpose func(types.RequestKind) models.Purpose
	onDelta DeltaFunc
}

// NewBackendRouter creates a Handler-producing adapter. purposeFor maps
// a request's Kind to the models.Purpose used to look up engine/model;
// onDelta (optional) receives streaming chunks tagged with segment id.
func NewBackendRouter(table *models.Table, router *Router[Backend], purposeFor func(types.RequestKind) models.Purpose, onDelta DeltaFunc) *BackendRouter {
	return &BackendRouter{table: table, router: router, purpose: purposeFor, onDelta: onDelta}
}

// Handle implements translate.Handler.
func (b *BackendRouter) Handle(ctx context.Context, req types.TranslationRequest) (string, error) {
	purpose := b.purpose(req.Kind)
	entry := b.table.Lookup(purpose)
	backend, err := b.router.Route(entry.Engine)
	if err != nil {
		return "", err
	}
	return backend.Translate(ctx, entry.Model, Request{
		SourceText:     req.SourceText,
		SourceLanguage: string(req.SourceLanguage),
		TargetLanguage: string(req.TargetLanguage),
	}, func(delta string) {
		if b.onDelta != nil {
			b.onDelta(req.SegmentID, delta)
		}
	})
}
