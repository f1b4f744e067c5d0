// Package swarm runs queued tasks on a worker pool whose size follows an AIMD
// controller.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
)

var (
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueFull   = errors.New("queue full")
)

// Task is a unit of work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue accepts tasks for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

// PanicError wraps a recovered panic.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// Stats holds runtime statistics for the pool.
type Stats struct {
	ActiveWorkers  int
	Concurrency    int
	Queued         int
	TasksCompleted int64
	TasksFailed    int64
}

// Pool implements Queue.
type Pool struct {
	aimd    *AIMD
	tasks   chan Task
	wg      sync.WaitGroup
	pending sync.WaitGroup
	quit    chan struct{}
	logger  *slog.Logger
	onDone  func(Task, error)

	mu     sync.Mutex
	active int
	closed bool
	stats  Stats
}

type Option func(*Pool)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver is called after every task with its result.
func WithObserver(f func(Task, error)) Option {
	return func(p *Pool) { p.onDone = f }
}

// WithFastLatency sets the task duration under which a success grows the pool.
func WithFastLatency(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.aimd.fast = d
		}
	}
}

// NewPool starts with workers goroutines and may grow to maxWorkers.
func NewPool(workers, maxWorkers, buffer int, opts ...Option) *Pool {
	if buffer < 1 {
		buffer = 1
	}
	p := &Pool{
		aimd:   NewAIMD(workers, 1, maxWorkers),
		tasks:  make(chan Task, buffer),
		quit:   make(chan struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the worker loop.
func (p *Pool) Start(ctx context.Context) {
	p.scale(ctx)
	go p.loop(ctx)
}

// Enqueue never blocks; a full buffer is reported to the caller.
func (p *Pool) Enqueue(ctx context.Context, t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.pending.Add(1)
	select {
	case p.tasks <- t:
		return nil
	default:
		p.pending.Done()
		return ErrQueueFull
	}
}

// Shutdown stops intake, waits for queued tasks to finish or ctx to expire,
// then stops the workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}
	close(p.quit)
	p.wg.Wait()
	return err
}

// GetStats returns current pool stats.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.ActiveWorkers = p.active
	s.Concurrency = p.aimd.GetConcurrency()
	s.Queued = len(p.tasks)
	return s
}

func (p *Pool) loop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			p.scale(ctx)
		}
	}
}

// scale spawns workers up to the AIMD target. Surplus workers exit after
// their current task.
func (p *Pool) scale(ctx context.Context) {
	target := p.aimd.GetConcurrency()
	p.mu.Lock()
	spawn := target - p.active
	p.active += max(spawn, 0)
	p.mu.Unlock()
	for i := 0; i < spawn; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active > p.aimd.GetConcurrency() {
		p.active--
		return true
	}
	return false
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		if p.retire() {
			return
		}
		select {
		case <-ctx.Done():
			p.exit()
			return
		case <-p.quit:
			p.exit()
			return
		case task := <-p.tasks:
			p.execute(ctx, task)
		}
	}
}

func (p *Pool) exit() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

func (p *Pool) execute(ctx context.Context, task Task) {
	defer p.pending.Done()
	start := time.Now()
	err := p.safeRun(ctx, task)
	latency := time.Since(start)

	throttled := errors.Is(err, fault.ErrThrottled)
	p.aimd.Feedback(latency, throttled)

	p.mu.Lock()
	p.stats.TasksCompleted++
	if err != nil {
		p.stats.TasksFailed++
	}
	p.mu.Unlock()

	switch {
	case throttled:
		p.logger.Info("Task throttled, lowering concurrency", "task", task.Name,
			"error", err, "concurrency", p.aimd.GetConcurrency())
	case err != nil:
		p.logger.Warn("Task failed", "task", task.Name, "error", err, "duration", latency)
	}
	if p.onDone != nil {
		p.onDone(task, err)
	}
}

func (p *Pool) safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task.Run(ctx)
}
