package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSideEffectMetrics struct {
	dropped atomic.Int32
	failed  atomic.Int32
}

func (m *countingSideEffectMetrics) SideEffectDropped(string) { m.dropped.Add(1) }
func (m *countingSideEffectMetrics) SideEffectFailed(string)  { m.failed.Add(1) }

func TestSideEffectWorkerRunsTasksAndDrainsOnStop(t *testing.T) {
	metrics := &countingSideEffectMetrics{}
	worker := NewSideEffectWorker(SideEffectWorkerDeps{QueueSize: 16, Metrics: metrics})
	worker.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if !worker.Enqueue(context.Background(), SideEffectTask{Kind: "audit", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	worker.Enqueue(context.Background(), SideEffectTask{Kind: "notification", Run: func(context.Context) error {
		return errors.New("smtp down")
	}})
	worker.Enqueue(context.Background(), SideEffectTask{Kind: "notification", Run: func(context.Context) error {
		panic("boom")
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ran.Load() != 10 {
		t.Fatalf("expected all queued tasks to run, got %d", ran.Load())
	}
	if metrics.failed.Load() != 2 {
		t.Fatalf("expected error and panic counted as failures, got %d", metrics.failed.Load())
	}
	if worker.Enqueue(context.Background(), SideEffectTask{Kind: "audit", Run: func(context.Context) error { return nil }}) {
		t.Fatalf("stopped worker should reject tasks")
	}
	if metrics.dropped.Load() != 1 {
		t.Fatalf("expected dropped task counted, got %d", metrics.dropped.Load())
	}
}

func TestSideEffectWorkerDropsWhenFull(t *testing.T) {
	metrics := &countingSideEffectMetrics{}
	worker := NewSideEffectWorker(SideEffectWorkerDeps{QueueSize: 1, Metrics: metrics})
	worker.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	block := SideEffectTask{Kind: "audit", Run: func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}}
	worker.Enqueue(context.Background(), block)
	<-started
	if !worker.Enqueue(context.Background(), block) {
		t.Fatalf("queue slot should accept one task")
	}
	if worker.Enqueue(context.Background(), block) {
		t.Fatalf("expected full queue to drop")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if metrics.dropped.Load() != 1 {
		t.Fatalf("expected one drop, got %d", metrics.dropped.Load())
	}
}

func TestSideEffectWorkerDetachesCallerContext(t *testing.T) {
	worker := NewSideEffectWorker(SideEffectWorkerDeps{})
	worker.Start()

	callerCtx, cancelCaller := context.WithCancel(context.Background())
	seen := make(chan error, 1)
	worker.Enqueue(callerCtx, SideEffectTask{Kind: "audit", Run: func(ctx context.Context) error {
		seen <- ctx.Err()
		return nil
	}})
	cancelCaller()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := worker.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-seen; err != nil {
		t.Fatalf("task context should outlive the caller, got %v", err)
	}
}
