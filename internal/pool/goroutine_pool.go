package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// handoffWait bounds how long Submit waits for a worker to take a task.
const handoffWait = 50 * time.Millisecond

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers  int           `yaml:"max_workers" json:"max_workers"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultGoroutinePoolConfig returns sensible defaults.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  128,
		QueueSize:   1024,
		IdleTimeout: 60 * time.Second,
	}
}

// GoroutinePool manages a bounded set of worker goroutines.
type GoroutinePool struct {
	config    GoroutinePoolConfig
	taskQueue chan taskWrapper
	logger    *zap.Logger

	// mu guards closed against sends on a closed queue.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	workerCount atomic.Int32
	activeCount atomic.Int32

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type taskWrapper struct {
	task Task
	ctx  context.Context
}

// NewGoroutinePool creates a pool. Workers are started lazily.
func NewGoroutinePool(config GoroutinePoolConfig, logger *zap.Logger) *GoroutinePool {
	def := DefaultGoroutinePoolConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoroutinePool{
		config:    config,
		taskQueue: make(chan taskWrapper, config.QueueSize),
		logger:    logger.With(zap.String("component", "goroutine_pool")),
	}
}

// =============================================================================
// 🎯 提交
// =============================================================================

// Submit queues task, waiting at most handoffWait for a worker to take it.
// It returns ErrPoolFull when the queue is full and every worker is busy.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	w := taskWrapper{task: task, ctx: ctx}
	select {
	case p.taskQueue <- w:
		p.ensureWorker()
		return nil
	default:
	}
	// a fresh or idle worker may not be receiving yet
	if p.trySpawnWorker() || p.workerCount.Load() > p.activeCount.Load() {
		timer := time.NewTimer(handoffWait)
		defer timer.Stop()
		select {
		case p.taskQueue <- w:
			return nil
		case <-timer.C:
		}
	}
	p.rejected.Add(1)
	return ErrPoolFull
}

// ensureWorker starts a worker when every existing one is busy or tasks
// are waiting.
func (p *GoroutinePool) ensureWorker() {
	if p.activeCount.Load() >= p.workerCount.Load() || len(p.taskQueue) > 0 {
		p.trySpawnWorker()
	}
}

func (p *GoroutinePool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.config.MaxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

// =============================================================================
// 🔧 工作协程
// =============================================================================

func (p *GoroutinePool) worker() {
	defer p.wg.Done()

	timer := time.NewTimer(p.config.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case w, ok := <-p.taskQueue:
			if !ok {
				p.workerCount.Add(-1)
				return
			}
			p.activeCount.Add(1)
			err := p.run(w)
			p.activeCount.Add(-1)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.config.IdleTimeout)

		case <-timer.C:
			// keep at least one worker alive
			if n := p.workerCount.Load(); n > 1 && p.workerCount.CompareAndSwap(n, n-1) {
				return
			}
			timer.Reset(p.config.IdleTimeout)
		}
	}
}

func (p *GoroutinePool) run(w taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return w.task(w.ctx)
}

// Close stops accepting tasks, lets queued tasks finish and waits for all
// workers to exit.
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.mu.Unlock()

	// queued tasks need a worker even if all of them idled out
	if len(p.taskQueue) > 0 {
		p.trySpawnWorker()
	}
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
