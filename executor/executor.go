package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/capability"
	"github.com/BaSui01/enclaveflow/governor"
	"github.com/BaSui01/enclaveflow/internal/ctxkeys"
	"github.com/BaSui01/enclaveflow/internal/metrics"
	"github.com/BaSui01/enclaveflow/runtime"
	"github.com/BaSui01/enclaveflow/types"
)

// CompiledFunction is an immutable handle produced by Compile. It is safe to
// execute concurrently and is owned by the caller.
type CompiledFunction struct {
	runtime    runtime.ID
	entryPoint string
	sourceHash string
	compiled   runtime.Compiled
}

// Runtime returns the runtime the function was compiled for.
func (f *CompiledFunction) Runtime() runtime.ID { return f.runtime }

// EntryPoint returns the entry point named at compile time.
func (f *CompiledFunction) EntryPoint() string { return f.entryPoint }

// SourceHash is the hex SHA-256 of the source text.
func (f *CompiledFunction) SourceHash() string { return f.sourceHash }

// Binder produces the capability set of one invocation.
type Binder interface {
	Bind(scope capability.Scope) *capability.Set
}

// Stats tracks execution statistics.
type Stats struct {
	TotalExecutions   int64         `json:"total_executions"`
	SuccessExecutions int64         `json:"success_executions"`
	FailedExecutions  int64         `json:"failed_executions"`
	TimeoutExecutions int64         `json:"timeout_executions"`
	TotalDuration     time.Duration `json:"total_duration"`
}

// Executor routes compile and execute calls to the registered adapters.
type Executor struct {
	registry     *runtime.Registry
	governor     *governor.Governor
	capabilities Binder
	collector    *metrics.Collector
	maxLogLines  int
	logger       *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

// Option configures an Executor.
type Option func(*Executor)

// WithCollector records execution metrics.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Executor) { e.collector = c }
}

// WithMaxLogLines caps the log lines kept per invocation.
func WithMaxLogLines(n int) Option {
	return func(e *Executor) { e.maxLogLines = n }
}

// New creates an executor. A nil binder gives user code a capability set
// whose collaborators are all unconfigured.
func New(registry *runtime.Registry, gov *governor.Governor, binder Binder, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gov == nil {
		gov = governor.New(governor.DefaultConfig(), logger)
	}
	if binder == nil {
		binder = capability.NewProvider(logger)
	}
	e := &Executor{
		registry:     registry,
		governor:     gov,
		capabilities: binder,
		maxLogLines:  runtime.DefaultMaxLogLines,
		logger:       logger.With(zap.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile resolves runtimeID and compiles source. It fails with
// UnsupportedRuntimeError or CompilationError.
func (e *Executor) Compile(runtimeID, source, entryPoint string) (*CompiledFunction, error) {
	rt, err := e.registry.Lookup(runtime.ID(runtimeID))
	if err != nil {
		return nil, err
	}
	compiled, err := rt.Compile(source, entryPoint)
	if err != nil {
		e.logger.Debug("compile failed",
			zap.String("runtime", runtimeID),
			zap.String("entry_point", entryPoint),
			zap.Error(err))
		return nil, types.WrapError(err, types.KindCompilation)
	}
	sum := sha256.Sum256([]byte(source))
	return &CompiledFunction{
		runtime:    rt.ID(),
		entryPoint: entryPoint,
		sourceHash: hex.EncodeToString(sum[:]),
		compiled:   compiled,
	}, nil
}

// Execute runs fn with params bound as params.
func (e *Executor) Execute(ctx context.Context, fn *CompiledFunction, entryPoint string, params any, ec *types.ExecutionContext) (*types.ExecutionResult, error) {
	return e.run(ctx, fn, entryPoint, runtime.BindParams, params, ec)
}

// ExecuteForEvent runs fn with event bound as event; params stays unbound.
func (e *Executor) ExecuteForEvent(ctx context.Context, fn *CompiledFunction, entryPoint string, event any, ec *types.ExecutionContext) (*types.ExecutionResult, error) {
	if event == nil && ec != nil {
		event = ec.Event
	}
	return e.run(ctx, fn, entryPoint, runtime.BindEvent, event, ec)
}

func (e *Executor) run(ctx context.Context, fn *CompiledFunction, entryPoint string, binding runtime.Binding, input any, ec *types.ExecutionContext) (*types.ExecutionResult, error) {
	if fn == nil || fn.compiled == nil {
		return nil, types.NewError(types.KindCompilation, "function has not been compiled")
	}
	rt, err := e.registry.Lookup(fn.runtime)
	if err != nil {
		return nil, err
	}
	if entryPoint == "" {
		entryPoint = fn.entryPoint
	}
	tree, err := types.Normalize(input, types.PreserveIntegers)
	if err != nil {
		return nil, types.NewError(types.KindExecution, "input is not a value tree").WithCause(err)
	}

	ec = ec.Clone()
	executionID := uuid.NewString()
	ctx = ctxkeys.WithFunction(ctx, ec.FunctionID, ec.AccountID)
	ctx = ctxkeys.WithExecutionID(ctx, executionID)

	inv := &runtime.Invocation{
		Compiled:    fn.compiled,
		EntryPoint:  entryPoint,
		Binding:     binding,
		Input:       tree,
		Context:     ec,
		ExecutionID: executionID,
		Capabilities: e.capabilities.Bind(capability.Scope{
			AccountID:  ec.AccountID,
			FunctionID: ec.FunctionID,
			Env:        ec.EnvironmentVariables,
		}),
		Logs: runtime.NewLogBuffer(e.maxLogLines),
	}

	e.logger.Debug("executing function",
		append(ctxkeys.LogFields(ctx),
			zap.String("runtime", string(fn.runtime)),
			zap.String("entry_point", entryPoint),
			zap.String("binding", string(binding)))...)

	start := time.Now()
	res, err := e.governor.Run(ctx, ec, func(ctx context.Context) (*types.ExecutionResult, error) {
		return rt.Execute(ctx, inv)
	})
	if err == nil {
		res.Result, err = types.Normalize(res.Result, types.PreserveIntegers)
		if err != nil {
			err = types.NewError(types.KindExecution, "result is not a value tree").WithCause(err)
		}
	}
	duration := time.Since(start)
	e.record(fn.runtime, err, duration)

	if err != nil {
		e.logFault(ctx, err, duration)
		return nil, types.WrapError(err, types.KindExecution)
	}
	if res.Logs == nil {
		res.Logs = []string{}
	}
	return res, nil
}

func (e *Executor) record(rt runtime.ID, err error, duration time.Duration) {
	status := "success"
	e.mu.Lock()
	e.stats.TotalExecutions++
	e.stats.TotalDuration += duration
	switch {
	case err == nil:
		e.stats.SuccessExecutions++
	case types.IsKind(err, types.KindTimeout):
		e.stats.FailedExecutions++
		e.stats.TimeoutExecutions++
		status = "timeout"
	default:
		e.stats.FailedExecutions++
		status = "failed"
	}
	e.mu.Unlock()
	e.collector.RecordExecution(string(rt), status, duration)
}

func (e *Executor) logFault(ctx context.Context, err error, duration time.Duration) {
	fields := append(ctxkeys.LogFields(ctx), zap.Duration("duration", duration), zap.Error(err))
	if te, ok := types.AsError(err); ok && te.Detail != "" {
		fields = append(fields, zap.String("detail", te.Detail))
	}
	e.logger.Info("function execution failed", fields...)
}

// Stats returns a copy of the execution statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Runtimes lists the registered runtime ids.
func (e *Executor) Runtimes() []runtime.ID {
	return e.registry.IDs()
}
