// Package lua runs user functions on the gopher-lua bytecode VM. Compiled
// FunctionProtos are immutable and shared; every invocation gets its own
// LState with only the base, table, string and math libraries.
package lua

import (
	"context"
	"errors"
	"strings"

	glua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/runtime"
	"github.com/BaSui01/enclaveflow/types"
)

const sourceName = "function.lua"

// removed from the base library: anything that loads code or touches the host.
var unsafeGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module",
	"collectgarbage", "getfenv", "setfenv", "newproxy", "_printregs",
}

// Config tunes the adapter.
type Config struct {
	CallStackSize int `yaml:"call_stack_size" json:"call_stack_size"`
	// RegistrySize is the initial value stack size in slots.
	RegistrySize int `yaml:"registry_size" json:"registry_size"`
	// RegistryMaxSize caps the value stack when MaxMemory is not set.
	RegistryMaxSize int `yaml:"registry_max_size" json:"registry_max_size"`
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{CallStackSize: 256, RegistrySize: 1024 * 4, RegistryMaxSize: 1024 * 256}
}

// slotsPerMB approximates how many registry slots fit into one megabyte.
const slotsPerMB = 1024 * 1024 / 32

// Runtime is the lua adapter.
type Runtime struct {
	config Config
	logger *zap.Logger
}

// New creates the adapter.
func New(config Config, logger *zap.Logger) *Runtime {
	def := DefaultConfig()
	if config.CallStackSize <= 0 {
		config.CallStackSize = def.CallStackSize
	}
	if config.RegistrySize <= 0 {
		config.RegistrySize = def.RegistrySize
	}
	if config.RegistryMaxSize < config.RegistrySize {
		config.RegistryMaxSize = max(def.RegistryMaxSize, config.RegistrySize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{config: config, logger: logger.With(zap.String("component", "runtime_lua"))}
}

type program struct {
	proto      *glua.FunctionProto
	entryPoint string
}

func (p *program) Runtime() runtime.ID { return runtime.Lua }
func (p *program) EntryPoint() string  { return p.entryPoint }

// ID implements runtime.Runtime.
func (r *Runtime) ID() runtime.ID { return runtime.Lua }

// Compile parses source into bytecode and checks that entryPoint is a
// top-level global function.
func (r *Runtime) Compile(source, entryPoint string) (runtime.Compiled, error) {
	if strings.TrimSpace(entryPoint) == "" {
		return nil, types.NewError(types.KindCompilation, "entry point is required")
	}
	chunk, err := parse.Parse(strings.NewReader(source), sourceName)
	if err != nil {
		return nil, types.NewError(types.KindCompilation, err.Error()).WithCause(err)
	}
	if !definesFunction(chunk, entryPoint) {
		return nil, types.Errorf(types.KindCompilation, "entry point %q is not a top-level function", entryPoint)
	}
	proto, err := glua.Compile(chunk, sourceName)
	if err != nil {
		return nil, types.NewError(types.KindCompilation, err.Error()).WithCause(err)
	}
	return &program{proto: proto, entryPoint: entryPoint}, nil
}

func definesFunction(chunk []ast.Stmt, name string) bool {
	for _, stmt := range chunk {
		switch s := stmt.(type) {
		case *ast.FuncDefStmt:
			if s.Name == nil || s.Name.Receiver != nil {
				continue
			}
			if id, ok := s.Name.Func.(*ast.IdentExpr); ok && id.Value == name {
				return true
			}
		case *ast.AssignStmt:
			for i, lhs := range s.Lhs {
				id, ok := lhs.(*ast.IdentExpr)
				if !ok || id.Value != name || i >= len(s.Rhs) {
					continue
				}
				if _, ok := s.Rhs[i].(*ast.FunctionExpr); ok {
					return true
				}
			}
		}
	}
	return false
}

// Execute runs one invocation on a fresh LState.
func (r *Runtime) Execute(ctx context.Context, inv *runtime.Invocation) (*types.ExecutionResult, error) {
	p, ok := inv.Compiled.(*program)
	if !ok {
		return nil, types.NewError(types.KindUnsupportedRuntime, "compiled function does not belong to the lua runtime")
	}
	entry := inv.EntryPoint
	if entry == "" {
		entry = p.entryPoint
	}

	L := glua.NewState(glua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       r.config.CallStackSize,
		RegistrySize:        r.config.RegistrySize,
		RegistryMaxSize:     r.registryMax(inv.Context),
		RegistryGrowStep:    32,
		IncludeGoStackTrace: false,
	})
	defer L.Close()
	L.SetContext(ctx)

	if err := r.install(ctx, L, inv); err != nil {
		return nil, fault(ctx, err)
	}

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, fault(ctx, err)
	}

	fn, ok := L.GetGlobal(entry).(*glua.LFunction)
	if !ok {
		return nil, types.Errorf(types.KindCompilation, "entry point %q is not a function", entry)
	}
	input, err := toLua(L, inv.Input, 0)
	if err != nil {
		return nil, types.NewError(types.KindExecution, "invalid input").WithCause(err)
	}
	if err := L.CallByParam(glua.P{Fn: fn, NRet: 1, Protect: true}, input); err != nil {
		return nil, fault(ctx, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	result, err := fromLua(ret, 0)
	if err != nil {
		return nil, types.NewError(types.KindExecution, "result is not serializable").WithCause(err)
	}
	return &types.ExecutionResult{Result: result, Logs: inv.Logs.Lines()}, nil
}

// registryMax maps the advisory MaxMemory onto the value stack limit.
func (r *Runtime) registryMax(ec *types.ExecutionContext) int {
	if ec == nil || ec.MaxMemory <= 0 {
		return r.config.RegistryMaxSize
	}
	return max(int(ec.MaxMemory)*slotsPerMB, r.config.RegistrySize)
}

func fault(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.NewError(types.KindTimeout, "execution exceeded its deadline").WithCause(err)
		}
		return types.NewError(types.KindExecution, "execution cancelled").WithCause(err)
	}
	var apiErr *glua.ApiError
	if errors.As(err, &apiErr) {
		msg := apiErr.Error()
		if apiErr.Object != nil {
			msg = apiErr.Object.String()
		}
		return types.NewError(types.KindExecution, msg).WithDetail(apiErr.StackTrace)
	}
	return types.NewError(types.KindExecution, err.Error()).WithCause(err)
}
