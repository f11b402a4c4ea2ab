package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultSideEffectQueueSize = 256
	defaultSideEffectTimeout   = 10 * time.Second

	sideEffectEventDropped = "side_effect.dropped"
	sideEffectEventFailed  = "side_effect.failed"
)

// SideEffectMetrics counts tasks that never ran or failed.
type SideEffectMetrics interface {
	SideEffectDropped(kind string)
	SideEffectFailed(kind string)
}

// SideEffectWorkerDeps configures the worker.
type SideEffectWorkerDeps struct {
	QueueSize   int
	TaskTimeout time.Duration
	Metrics     SideEffectMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// SideEffectWorker runs audit and notification tasks on a single goroutine fed by a bounded queue.
type SideEffectWorker struct {
	queue   chan queuedTask
	timeout time.Duration
	metrics SideEffectMetrics
	logger  func(context.Context, string, map[string]any)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type queuedTask struct {
	ctx  context.Context
	task SideEffectTask
}

var _ SideEffectQueue = (*SideEffectWorker)(nil)

// NewSideEffectWorker constructs a worker. Call Start before enqueueing.
func NewSideEffectWorker(deps SideEffectWorkerDeps) *SideEffectWorker {
	size := deps.QueueSize
	if size <= 0 {
		size = defaultSideEffectQueueSize
	}
	timeout := deps.TaskTimeout
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SideEffectWorker{
		queue:   make(chan queuedTask, size),
		timeout: timeout,
		metrics: deps.Metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing queued tasks.
func (w *SideEffectWorker) Start() {
	w.once.Do(func() {
		w.wg.Add(1)
		go w.loop()
	})
}

// Stop signals the worker to drain the queue and waits for completion.
func (w *SideEffectWorker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue hands a task to the worker without blocking. A full queue or stopped worker drops the task.
func (w *SideEffectWorker) Enqueue(ctx context.Context, task SideEffectTask) bool {
	if task.Run == nil {
		return false
	}
	if w.ctx.Err() != nil {
		w.drop(ctx, task, "worker stopped")
		return false
	}
	select {
	case w.queue <- queuedTask{ctx: context.WithoutCancel(ctx), task: task}:
		return true
	default:
		w.drop(ctx, task, "queue full")
		return false
	}
}

func (w *SideEffectWorker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case item := <-w.queue:
			w.process(item)
		}
	}
}

func (w *SideEffectWorker) drain() {
	for {
		select {
		case item := <-w.queue:
			w.process(item)
		default:
			return
		}
	}
}

func (w *SideEffectWorker) process(item queuedTask) {
	ctx, cancel := context.WithTimeout(item.ctx, w.timeout)
	defer cancel()
	if err := runTask(ctx, item.task); err != nil {
		if w.metrics != nil {
			w.metrics.SideEffectFailed(item.task.Kind)
		}
		w.logger(ctx, sideEffectEventFailed, map[string]any{"kind": item.task.Kind, "error": err.Error()})
	}
}

func (w *SideEffectWorker) drop(ctx context.Context, task SideEffectTask, reason string) {
	if w.metrics != nil {
		w.metrics.SideEffectDropped(task.Kind)
	}
	w.logger(ctx, sideEffectEventDropped, map[string]any{"kind": task.Kind, "reason": reason})
}

func runTask(ctx context.Context, task SideEffectTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("side effect %s panicked: %v", task.Kind, r)
		}
	}()
	return task.Run(ctx)
}

// inlineSideEffects runs tasks synchronously; used when no worker is configured.
type inlineSideEffects struct{}

func (inlineSideEffects) Enqueue(ctx context.Context, task SideEffectTask) bool {
	if task.Run == nil {
		return false
	}
	_ = runTask(context.WithoutCancel(ctx), task)
	return true
}
