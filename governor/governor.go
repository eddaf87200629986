package governor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	rtmetrics "runtime/metrics"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/enclaveflow/internal/ctxkeys"
	"github.com/BaSui01/enclaveflow/internal/metrics"
	"github.com/BaSui01/enclaveflow/types"
)

// Config bounds execution time and concurrency.
type Config struct {
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout" json:"max_timeout"`
	MaxConcurrent  int64         `yaml:"max_concurrent" json:"max_concurrent"`
}

// DefaultConfig returns the governor defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     5 * time.Minute,
		MaxConcurrent:  64,
	}
}

// Unit is one governed piece of work. It must honour ctx cancellation.
type Unit func(ctx context.Context) (*types.ExecutionResult, error)

// Governor runs units under a deadline and a concurrency bound.
type Governor struct {
	config    Config
	sem       *semaphore.Weighted
	collector *metrics.Collector
	logger    *zap.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithCollector reports the in-flight gauge to c.
func WithCollector(c *metrics.Collector) Option {
	return func(g *Governor) { g.collector = c }
}

// New creates a governor. Zero config fields take the defaults.
func New(config Config, logger *zap.Logger, opts ...Option) *Governor {
	def := DefaultConfig()
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = def.DefaultTimeout
	}
	if config.MaxTimeout <= 0 {
		config.MaxTimeout = def.MaxTimeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		config: config,
		sem:    semaphore.NewWeighted(config.MaxConcurrent),
		logger: logger.With(zap.String("component", "governor")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout resolves the effective deadline for ec.
func (g *Governor) Timeout(ec *types.ExecutionContext) time.Duration {
	d := ec.Timeout()
	if d <= 0 {
		d = g.config.DefaultTimeout
	}
	return min(d, g.config.MaxTimeout)
}

type outcome struct {
	result *types.ExecutionResult
	err    error
}

// Run executes unit in its own goroutine. It returns as soon as the unit
// finishes or the deadline passes, whichever is first; in the latter case the
// unit's context is cancelled and its eventual outcome discarded.
func (g *Governor) Run(ctx context.Context, ec *types.ExecutionContext, unit Unit) (*types.ExecutionResult, error) {
	timeout := g.Timeout(ec)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.sem.Acquire(runCtx, 1); err != nil {
		return nil, g.interrupted(ctx, runCtx, timeout)
	}
	g.collector.AddInFlight(1)

	before := heapAllocated()
	done := make(chan outcome, 1)
	go func() {
		defer g.sem.Release(1)
		defer g.collector.AddInFlight(-1)
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("execution unit panicked",
					append(ctxkeys.LogFields(ctx), zap.Any("panic", r))...)
				done <- outcome{err: types.Errorf(types.KindExecution, "runtime panic: %v", r).WithDetail(string(debug.Stack()))}
			}
		}()
		res, err := unit(runCtx)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		g.checkMemory(ctx, ec, before)
		if out.err != nil {
			if runCtx.Err() != nil && !types.IsKind(out.err, types.KindTimeout) {
				return nil, g.interrupted(ctx, runCtx, timeout)
			}
			return nil, types.WrapError(out.err, types.KindExecution)
		}
		if out.result == nil {
			out.result = &types.ExecutionResult{}
		}
		return out.result, nil
	case <-runCtx.Done():
		return nil, g.interrupted(ctx, runCtx, timeout)
	}
}

func (g *Governor) interrupted(parent, runCtx context.Context, timeout time.Duration) error {
	if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
		return types.NewError(types.KindExecution, "execution cancelled").WithCause(parent.Err())
	}
	g.logger.Warn("execution timed out",
		append(ctxkeys.LogFields(parent), zap.Duration("timeout", timeout))...)
	return types.Errorf(types.KindTimeout, "execution exceeded %s", timeout).WithCause(runCtx.Err())
}

// checkMemory logs when the process allocated more than MaxMemory while the
// unit ran. The sample is process-wide, so it is only a hint.
func (g *Governor) checkMemory(ctx context.Context, ec *types.ExecutionContext, before uint64) {
	if ec == nil || ec.MaxMemory <= 0 {
		return
	}
	limit := uint64(ec.MaxMemory) * 1024 * 1024
	if grown := heapAllocated() - before; grown > limit {
		g.logger.Warn("execution exceeded advisory memory limit",
			append(ctxkeys.LogFields(ctx),
				zap.Uint64("allocated_bytes", grown),
				zap.Int64("max_memory_mb", ec.MaxMemory))...)
	}
}

const heapAllocsMetric = "/gc/heap/allocs:bytes"

func heapAllocated() uint64 {
	sample := []rtmetrics.Sample{{Name: heapAllocsMetric}}
	rtmetrics.Read(sample)
	if sample[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// String describes the configured limits.
func (g *Governor) String() string {
	return fmt.Sprintf("governor(default=%s, max=%s, concurrent=%d)",
		g.config.DefaultTimeout, g.config.MaxTimeout, g.config.MaxConcurrent)
}
