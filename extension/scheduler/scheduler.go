package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncobase/hostkit/config"
	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

var (
	ErrQueueFull = errors.New("task queue is full")
	ErrStopped   = errors.New("scheduler is stopped")
)

// Config represents scheduler configuration
type Config struct {
	MaxWorkers  int           // maximum number of workers
	QueueSize   int           // task queue size
	TaskTimeout time.Duration // timeout for single task run
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers:  10,
		QueueSize:   1000,
		TaskTimeout: time.Minute,
	}
}

// FromConfig converts the scheduler section of the host configuration
func FromConfig(c *config.Scheduler) *Config {
	if c == nil {
		return DefaultConfig()
	}
	return &Config{
		MaxWorkers:  c.MaxWorkers,
		QueueSize:   c.QueueSize,
		TaskTimeout: c.TaskTimeout,
	}
}

// Validate validates configuration
func (cfg *Config) Validate() error {
	if cfg.MaxWorkers < 1 {
		return errors.New("max workers must be greater than 0")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	if cfg.TaskTimeout < 0 {
		return errors.New("task timeout must be greater than or equal to 0")
	}
	return nil
}

// TaskFunc is the body of a scheduled task. ctx is cancelled when the
// task or its owner's tasks are cancelled.
type TaskFunc func(ctx context.Context) error

// Task is a scheduled unit of work owned by an extension
type Task struct {
	id     int64
	owner  types.Extension
	fn     TaskFunc
	period time.Duration
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	timer *time.Timer
}

// ID returns the task id
func (t *Task) ID() int64 { return t.id }

// Owner returns the owning extension
func (t *Task) Owner() types.Extension { return t.owner }

// Repeating reports whether the task runs periodically
func (t *Task) Repeating() bool { return t.period > 0 }

// Cancelled reports whether the task has been cancelled
func (t *Task) Cancelled() bool { return t.ctx.Err() != nil }

func (t *Task) setTimer(timer *time.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		timer.Stop()
		return
	}
	t.timer = timer
}

func (t *Task) stop() {
	t.cancel()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Metrics tracks scheduler operational metrics
type Metrics struct {
	ActiveWorkers  atomic.Int64
	PendingTasks   atomic.Int64
	CompletedTasks atomic.Int64
	FailedTasks    atomic.Int64
	CancelledTasks atomic.Int64
	ProcessingTime atomic.Int64 // nanoseconds
}

type ownerTasks struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  map[int64]*Task
}

// Scheduler runs extension tasks on a worker pool and cancels them per
// owner when an extension is disabled
type Scheduler struct {
	maxWorkers  int
	taskTimeout time.Duration

	queue     chan *Task
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once

	mu     sync.Mutex
	owners map[types.Extension]*ownerTasks
	nextID atomic.Int64

	metrics *Metrics
}

// New creates a scheduler. Workers start on first use or on Start.
func New(cfg *Config) *Scheduler {
	if cfg == nil || cfg.Validate() != nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		maxWorkers:  cfg.MaxWorkers,
		taskTimeout: cfg.TaskTimeout,
		queue:       make(chan *Task, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		owners:      make(map[types.Extension]*ownerTasks),
		metrics:     &Metrics{},
	}
}

// Start starts the workers
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.maxWorkers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
	})
}

// Stop cancels every task and waits for the workers
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()

	s.mu.Lock()
	owners := s.owners
	s.owners = make(map[types.Extension]*ownerTasks)
	s.mu.Unlock()
	for _, ot := range owners {
		stopAll(ot)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// RunTask schedules fn to run as soon as a worker is free
func (s *Scheduler) RunTask(owner types.Extension, fn TaskFunc) (*Task, error) {
	return s.schedule(owner, fn, 0, 0)
}

// RunTaskLater schedules fn to run after delay
func (s *Scheduler) RunTaskLater(owner types.Extension, fn TaskFunc, delay time.Duration) (*Task, error) {
	return s.schedule(owner, fn, delay, 0)
}

// RunTaskTimer schedules fn to run after delay and then every period
func (s *Scheduler) RunTaskTimer(owner types.Extension, fn TaskFunc, delay, period time.Duration) (*Task, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be greater than 0, got %v", period)
	}
	return s.schedule(owner, fn, delay, period)
}

func (s *Scheduler) schedule(owner types.Extension, fn TaskFunc, delay, period time.Duration) (*Task, error) {
	if owner == nil {
		return nil, errors.New("task owner cannot be nil")
	}
	if fn == nil {
		return nil, errors.New("task cannot be nil")
	}
	if !owner.IsEnabled() {
		return nil, fmt.Errorf("%w: %s attempted to register a task while disabled", types.ErrIllegalAccess, owner.Name())
	}
	if s.ctx.Err() != nil {
		return nil, ErrStopped
	}
	s.Start()

	s.mu.Lock()
	ot, ok := s.owners[owner]
	if !ok {
		ctx, cancel := context.WithCancel(s.ctx)
		ot = &ownerTasks{ctx: ctx, cancel: cancel, tasks: make(map[int64]*Task)}
		s.owners[owner] = ot
	}
	ctx, cancel := context.WithCancel(ot.ctx)
	task := &Task{
		id:     s.nextID.Add(1),
		owner:  owner,
		fn:     fn,
		period: period,
		ctx:    ctx,
		cancel: cancel,
	}
	ot.tasks[task.id] = task
	s.mu.Unlock()

	if delay <= 0 {
		if err := s.submit(task); err != nil {
			s.forget(task)
			return nil, err
		}
		return task, nil
	}

	task.setTimer(time.AfterFunc(delay, func() { s.resubmit(task) }))
	return task, nil
}

// submit queues a task without blocking
func (s *Scheduler) submit(task *Task) error {
	if task.Cancelled() {
		return context.Canceled
	}
	select {
	case s.queue <- task:
		s.metrics.PendingTasks.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// resubmit queues a delayed or repeating task, dropping it when full
func (s *Scheduler) resubmit(task *Task) {
	if err := s.submit(task); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.metrics.FailedTasks.Add(1)
			logger.Errorf(s.ctx, "Could not queue task #%d for %s: %v", task.id, task.owner.Name(), err)
		}
		s.forget(task)
	}
}

// worker represents a worker goroutine
func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.queue:
			s.process(task)
		}
	}
}

// process runs a single task
func (s *Scheduler) process(task *Task) {
	s.metrics.PendingTasks.Add(-1)
	if task.Cancelled() {
		s.metrics.CancelledTasks.Add(1)
		s.forget(task)
		return
	}

	start := time.Now()
	s.metrics.ActiveWorkers.Add(1)

	ctx := logger.WithExtension(task.ctx, task.owner.Name())
	var cancel context.CancelFunc = func() {}
	if s.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.taskTimeout)
	}
	err := types.SafeCall(func() error {
		return task.fn(ctx)
	})
	cancel()

	s.metrics.ActiveWorkers.Add(-1)
	s.metrics.ProcessingTime.Add(time.Since(start).Nanoseconds())

	if err != nil {
		s.metrics.FailedTasks.Add(1)
		logger.Errorf(ctx, "Task #%d for %s generated an exception: %v", task.id, task.owner.Descriptor().FullName(), err)
	} else {
		s.metrics.CompletedTasks.Add(1)
	}

	if task.period > 0 && !task.Cancelled() {
		task.setTimer(time.AfterFunc(task.period, func() { s.resubmit(task) }))
		return
	}
	s.forget(task)
}

// forget drops a finished task from its owner's table
func (s *Scheduler) forget(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ot, ok := s.owners[task.owner]; ok {
		delete(ot.tasks, task.id)
	}
}

// Cancel cancels a single task
func (s *Scheduler) Cancel(id int64) bool {
	s.mu.Lock()
	var task *Task
	for _, ot := range s.owners {
		if t, ok := ot.tasks[id]; ok {
			task = t
			delete(ot.tasks, id)
			break
		}
	}
	s.mu.Unlock()

	if task == nil {
		return false
	}
	task.stop()
	return true
}

// CancelTasks cancels every pending, repeating and running task of owner.
// Running tasks observe the cancellation through their context.
func (s *Scheduler) CancelTasks(owner types.Extension) error {
	s.mu.Lock()
	ot, ok := s.owners[owner]
	delete(s.owners, owner)
	s.mu.Unlock()

	if ok {
		stopAll(ot)
	}
	return nil
}

func stopAll(ot *ownerTasks) {
	ot.cancel()
	for _, task := range ot.tasks {
		task.stop()
	}
}

// PendingTasks returns the number of live tasks owned by owner
func (s *Scheduler) PendingTasks(owner types.Extension) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ot, ok := s.owners[owner]; ok {
		return len(ot.tasks)
	}
	return 0
}

// GetMetrics returns the current metrics
func (s *Scheduler) GetMetrics() map[string]int64 {
	return map[string]int64{
		"active_workers":  s.metrics.ActiveWorkers.Load(),
		"pending_tasks":   s.metrics.PendingTasks.Load(),
		"completed_tasks": s.metrics.CompletedTasks.Load(),
		"failed_tasks":    s.metrics.FailedTasks.Load(),
		"cancelled_tasks": s.metrics.CancelledTasks.Load(),
		"processing_time": s.metrics.ProcessingTime.Load(),
	}
}
