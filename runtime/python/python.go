// Package python runs user functions written in the Python dialect
// interpreted by go.starlark.net. The interpreter is hermetic: no imports,
// no file or network access, only the injected capability objects.
package python

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/runtime"
	"github.com/BaSui01/enclaveflow/types"
)

const sourceName = "function.py"

func init() {
	// recursion off: a recursive call is an EvalError instead of unbounded
	// Go stack growth. This also rejects while loops at compile time.
	resolve.AllowRecursion = false
	resolve.AllowGlobalReassign = true
	resolve.AllowSet = true
}

// Config tunes the adapter.
type Config struct {
	// MaxExecutionSteps bounds interpreter steps per invocation; 0 disables.
	MaxExecutionSteps uint64 `yaml:"max_execution_steps" json:"max_execution_steps"`
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{MaxExecutionSteps: 500_000_000}
}

// Runtime is the python adapter.
type Runtime struct {
	config      Config
	predeclared map[string]struct{}
	logger      *zap.Logger
}

// New creates the adapter.
func New(config Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make(map[string]struct{})
	for _, n := range runtime.Predeclared() {
		names[n] = struct{}{}
	}
	return &Runtime{
		config:      config,
		predeclared: names,
		logger:      logger.With(zap.String("component", "runtime_python")),
	}
}

type program struct {
	prog       *starlark.Program
	entryPoint string
}

func (p *program) Runtime() runtime.ID { return runtime.Python }
func (p *program) EntryPoint() string  { return p.entryPoint }

// ID implements runtime.Runtime.
func (r *Runtime) ID() runtime.ID { return runtime.Python }

// Compile parses and resolves source and checks that entryPoint is a
// top-level def or lambda binding.
func (r *Runtime) Compile(source, entryPoint string) (runtime.Compiled, error) {
	if strings.TrimSpace(entryPoint) == "" {
		return nil, types.NewError(types.KindCompilation, "entry point is required")
	}
	f, err := syntax.Parse(sourceName, source, 0)
	if err != nil {
		return nil, types.NewError(types.KindCompilation, err.Error()).WithCause(err)
	}
	if !definesFunction(f, entryPoint) {
		return nil, types.Errorf(types.KindCompilation, "entry point %q is not a top-level function", entryPoint)
	}
	prog, err := starlark.FileProgram(f, func(name string) bool {
		_, ok := r.predeclared[name]
		return ok
	})
	if err != nil {
		return nil, types.NewError(types.KindCompilation, err.Error()).WithCause(err)
	}
	return &program{prog: prog, entryPoint: entryPoint}, nil
}

func definesFunction(f *syntax.File, name string) bool {
	for _, stmt := range f.Stmts {
		switch s := stmt.(type) {
		case *syntax.DefStmt:
			if s.Name.Name == name {
				return true
			}
		case *syntax.AssignStmt:
			id, ok := s.LHS.(*syntax.Ident)
			if !ok || s.Op != syntax.EQ || id.Name != name {
				continue
			}
			if _, ok := s.RHS.(*syntax.LambdaExpr); ok {
				return true
			}
		}
	}
	return false
}

// Execute runs one invocation on a fresh starlark.Thread.
func (r *Runtime) Execute(ctx context.Context, inv *runtime.Invocation) (*types.ExecutionResult, error) {
	p, ok := inv.Compiled.(*program)
	if !ok {
		return nil, types.NewError(types.KindUnsupportedRuntime, "compiled function does not belong to the python runtime")
	}
	entry := inv.EntryPoint
	if entry == "" {
		entry = p.entryPoint
	}

	thread := &starlark.Thread{
		Name:  inv.ExecutionID,
		Print: func(_ *starlark.Thread, msg string) { inv.Logs.Append(msg) },
	}
	if r.config.MaxExecutionSteps > 0 {
		thread.SetMaxExecutionSteps(r.config.MaxExecutionSteps)
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	input, err := toStarlark(inv.Input)
	if err != nil {
		return nil, types.NewError(types.KindExecution, "invalid input").WithCause(err)
	}
	predeclared, err := r.predeclare(ctx, inv, input)
	if err != nil {
		return nil, types.NewError(types.KindExecution, "sandbox setup failed").WithCause(err)
	}

	globals, err := p.prog.Init(thread, predeclared)
	if err != nil {
		return nil, fault(ctx, err)
	}
	fn, ok := globals[entry].(starlark.Callable)
	if !ok {
		return nil, types.Errorf(types.KindCompilation, "entry point %q is not a function", entry)
	}

	args := starlark.Tuple{input}
	if f, ok := fn.(*starlark.Function); ok && f.NumParams() == 0 {
		args = nil
	}
	out, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return nil, fault(ctx, err)
	}

	result, err := fromStarlark(out, 0)
	if err != nil {
		return nil, types.NewError(types.KindExecution, "result is not serializable").WithCause(err)
	}
	return &types.ExecutionResult{Result: result, Logs: inv.Logs.Lines()}, nil
}

func (r *Runtime) predeclare(ctx context.Context, inv *runtime.Invocation, input starlark.Value) (starlark.StringDict, error) {
	binding := inv.Binding
	if binding == "" {
		binding = runtime.BindParams
	}
	md := make(starlark.StringDict)
	for k, v := range inv.Metadata() {
		sv, err := toStarlark(v)
		if err != nil {
			return nil, err
		}
		md[k] = sv
	}

	dict := starlark.StringDict{
		string(binding):           input,
		string(binding.Other()):   starlark.None,
		runtime.ContextObjectName: starlarkstruct.FromStringDict(starlark.String(runtime.ContextObjectName), md),
		"env":                     envMapping(inv.Capabilities.Env()),
	}

	for _, obj := range inv.Capabilities.Objects() {
		members := make(starlark.StringDict, len(obj.Methods))
		for _, name := range obj.MethodNames() {
			method := obj.Methods[name]
			members[name] = starlark.NewBuiltin(obj.Name+"."+name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				if len(kwargs) > 0 {
					return nil, fmt.Errorf("%s: keyword arguments are not supported", b.Name())
				}
				goArgs := make([]any, len(args))
				for i, a := range args {
					v, err := fromStarlark(a, 0)
					if err != nil {
						return nil, fmt.Errorf("%s: %w", b.Name(), err)
					}
					goArgs[i] = v
				}
				res, err := method(ctx, goArgs)
				if err != nil {
					return nil, err
				}
				return toStarlark(res)
			})
		}
		dict[obj.Name] = &starlarkstruct.Module{Name: obj.Name, Members: members}
	}
	for name, v := range dict {
		if name != string(binding) {
			v.Freeze()
		}
	}
	return dict, nil
}

func fault(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.NewError(types.KindTimeout, "execution exceeded its deadline").WithCause(err)
		}
		return types.NewError(types.KindExecution, "execution cancelled").WithCause(err)
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return types.NewError(types.KindExecution, evalErr.Msg).WithDetail(evalErr.Backtrace())
	}
	return types.NewError(types.KindExecution, err.Error()).WithCause(err)
}
