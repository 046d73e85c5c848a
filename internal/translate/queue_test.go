package translate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/types"
)

func TestSameLanguageShortCircuitsWithoutHandler(t *testing.T) {
	q := NewQueue(QueueConfig{Concurrency: 1, HighCapacity: 1, NormalCapacity: 1, LowCapacity: 1, RequestTimeout: time.Second})
	// No handler installed: if the short-circuit path called it, this would panic.
	res, err := q.Enqueue(context.Background(), types.TranslationRequest{
		SegmentID: "s1", SourceText: "hello",
		SourceLanguage: "en", TargetLanguage: "en",
		Priority: types.PriorityNormal, Kind: types.KindRealtime,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TargetText != "hello" || res.Confidence != 1.0 {
		t.Fatalf("unexpected short-circuit result: %+v", res)
	}
}

func TestEnqueueRejectsWhenBucketFull(t *testing.T) {
	q := NewQueue(QueueConfig{Concurrency: 1, HighCapacity: 1, NormalCapacity: 1, LowCapacity: 1, RequestTimeout: time.Second})
	block := make(chan struct{})
	q.SetHandler(func(ctx context.Context, req types.TranslationRequest) (string, error) {
		<-block
		return "ok", nil
	})

	// Occupy the single worker with an in-flight job, then fill the bucket.
	go q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "a", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityNormal})
	time.Sleep(50 * time.Millisecond)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "b", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityNormal})
			results <- err
		}()
	}

	// The accepted "b" cannot finish until the worker is released, so the
	// first result to arrive is the rejected one; the second is read only
	// after close(block).
	err := <-results
	gotFull := errors.Is(err, ErrQueueFull)
	close(block)
	<-results
	if !gotFull {
		t.Fatal("expected at least one ErrQueueFull once the normal bucket saturates")
	}
}

func TestPriorityIsolationHighStartsBeforeRemainingLow(t *testing.T) {
	q := NewQueue(QueueConfig{Concurrency: 1, HighCapacity: 8, NormalCapacity: 8, LowCapacity: 8, RequestTimeout: 5 * time.Second})

	var mu sync.Mutex
	var starts []string
	release := make(chan struct{})

	q.SetHandler(func(ctx context.Context, req types.TranslationRequest) (string, error) {
		mu.Lock()
		starts = append(starts, req.SegmentID)
		mu.Unlock()
		<-release
		return "ok", nil
	})

	// Saturate the single worker with a low-priority job that blocks on `release`.
	go q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "low-0", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityLow})
	time.Sleep(50 * time.Millisecond)

	// Queue more low-priority jobs, then one high-priority job.
	for i := 1; i <= 3; i++ {
		go q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "low", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityLow})
	}
	time.Sleep(20 * time.Millisecond)
	go q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "high", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityHigh})
	time.Sleep(20 * time.Millisecond)

	close(release) // let everything proceed to completion serially now
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	foundHighBeforeLastLow := false
	highIdx, lastLowIdx := -1, -1
	for i, id := range starts {
		if id == "high" {
			highIdx = i
		}
		if id == "low" {
			lastLowIdx = i
		}
	}
	if highIdx >= 0 && lastLowIdx >= 0 && highIdx < lastLowIdx {
		foundHighBeforeLastLow = true
	}
	if !foundHighBeforeLastLow {
		t.Fatalf("expected high priority job to start before remaining low jobs; starts=%v", starts)
	}
}

func TestNormalStartsBeforeRemainingLow(t *testing.T) {
	q := NewQueue(QueueConfig{Concurrency: 1, HighCapacity: 8, NormalCapacity: 8, LowCapacity: 8, RequestTimeout: 5 * time.Second})

	var mu sync.Mutex
	var starts []string
	release := make(chan struct{})

	q.SetHandler(func(ctx context.Context, req types.TranslationRequest) (string, error) {
		mu.Lock()
		starts = append(starts, req.SegmentID)
		mu.Unlock()
		<-release
		return "ok", nil
	})

	// Saturate the single worker with a low-priority job that blocks on `release`.
	go q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "low-0", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityLow})
	time.Sleep(50 * time.Millisecond)

	// Queue more low-priority jobs, then one normal-priority job, many times
	// over to make a 50/50 random-select bug fail reliably rather than flake.
	for i := 1; i <= 20; i++ {
		go q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "low", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityLow})
	}
	time.Sleep(20 * time.Millisecond)
	go q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "normal", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityNormal})
	time.Sleep(20 * time.Millisecond)

	close(release) // let everything proceed to completion serially now
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	normalIdx, lastLowIdx := -1, -1
	for i, id := range starts {
		if id == "normal" {
			normalIdx = i
		}
		if id == "low" {
			lastLowIdx = i
		}
	}
	if normalIdx < 0 || lastLowIdx < 0 || normalIdx >= lastLowIdx {
		t.Fatalf("expected normal priority job to start before remaining low jobs; starts=%v", starts)
	}
}

func TestTerminalResultTimeoutMapsToErrTimeout(t *testing.T) {
	q := NewQueue(QueueConfig{Concurrency: 1, HighCapacity: 1, NormalCapacity: 1, LowCapacity: 1, RequestTimeout: 20 * time.Millisecond})
	q.SetHandler(func(ctx context.Context, req types.TranslationRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := q.Enqueue(context.Background(), types.TranslationRequest{
		SegmentID: "s1", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityNormal,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestDrainWaitsForInFlightUpToGrace(t *testing.T) {
	q := NewQueue(QueueConfig{Concurrency: 1, HighCapacity: 1, NormalCapacity: 1, LowCapacity: 1, RequestTimeout: time.Second})
	started := make(chan struct{})
	q.SetHandler(func(ctx context.Context, req types.TranslationRequest) (string, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return "done", nil
	})

	go q.Enqueue(context.Background(), types.TranslationRequest{SegmentID: "s1", SourceLanguage: "en", TargetLanguage: "ja", Priority: types.PriorityNormal})
	<-started

	start := time.Now()
	q.Drain(500 * time.Millisecond)
	if time.Since(start) > 400*time.Millisecond {
		t.Fatalf("drain took too long, should have returned once the in-flight job finished")
	}
}
