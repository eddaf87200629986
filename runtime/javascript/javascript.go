// Package javascript runs user functions on the goja ECMAScript engine.
package javascript

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/runtime"
	"github.com/BaSui01/enclaveflow/types"
)

const sourceName = "function.js"

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Config tunes the adapter.
type Config struct {
	MaxCallStackSize int `yaml:"max_call_stack_size" json:"max_call_stack_size"`
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{MaxCallStackSize: 4096}
}

// Runtime is the javascript adapter.
type Runtime struct {
	config Config
	logger *zap.Logger
}

// New creates the adapter.
func New(config Config, logger *zap.Logger) *Runtime {
	if config.MaxCallStackSize <= 0 {
		config.MaxCallStackSize = DefaultConfig().MaxCallStackSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{config: config, logger: logger.With(zap.String("component", "runtime_javascript"))}
}

type program struct {
	prog       *goja.Program
	entryPoint string
}

func (p *program) Runtime() runtime.ID { return runtime.JavaScript }
func (p *program) EntryPoint() string  { return p.entryPoint }

// ID implements runtime.Runtime.
func (r *Runtime) ID() runtime.ID { return runtime.JavaScript }

// Compile parses source and checks that entryPoint is a top-level function.
func (r *Runtime) Compile(source, entryPoint string) (runtime.Compiled, error) {
	if strings.TrimSpace(entryPoint) == "" {
		return nil, types.NewError(types.KindCompilation, "entry point is required")
	}
	parsed, err := parser.ParseFile(nil, sourceName, source, 0)
	if err != nil {
		return nil, types.NewError(types.KindCompilation, err.Error()).WithCause(err)
	}
	if !declaresFunction(parsed, entryPoint) {
		return nil, types.Errorf(types.KindCompilation, "entry point %q is not a top-level function", entryPoint)
	}
	prog, err := goja.CompileAST(parsed, false)
	if err != nil {
		return nil, types.NewError(types.KindCompilation, err.Error()).WithCause(err)
	}
	return &program{prog: prog, entryPoint: entryPoint}, nil
}

func declaresFunction(prog *ast.Program, name string) bool {
	for _, stmt := range prog.Body {
		switch s := stmt.(type) {
		case *ast.FunctionDeclaration:
			if s.Function != nil && s.Function.Name != nil && string(s.Function.Name.Name) == name {
				return true
			}
		case *ast.VariableStatement:
			if bindsFunction(s.List, name) {
				return true
			}
		case *ast.LexicalDeclaration:
			if bindsFunction(s.List, name) {
				return true
			}
		}
	}
	return false
}

func bindsFunction(list []*ast.Binding, name string) bool {
	for _, b := range list {
		id, ok := b.Target.(*ast.Identifier)
		if !ok || string(id.Name) != name {
			continue
		}
		switch b.Initializer.(type) {
		case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
			return true
		}
	}
	return false
}

// Execute runs one invocation on a fresh goja.Runtime.
func (r *Runtime) Execute(ctx context.Context, inv *runtime.Invocation) (*types.ExecutionResult, error) {
	p, ok := inv.Compiled.(*program)
	if !ok {
		return nil, types.NewError(types.KindUnsupportedRuntime, "compiled function does not belong to the javascript runtime")
	}
	entry := inv.EntryPoint
	if entry == "" {
		entry = p.entryPoint
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	input := toValue(vm, inv.Input)
	if err := r.install(ctx, vm, inv, input); err != nil {
		return nil, types.NewError(types.KindExecution, "sandbox setup failed").WithCause(err)
	}

	if _, err := vm.RunProgram(p.prog); err != nil {
		return nil, fault(ctx, err)
	}
	fn, ok := goja.AssertFunction(vm.Get(entry))
	if !ok {
		// let/const bindings live in the global lexical scope
		if !identifier.MatchString(entry) {
			return nil, types.Errorf(types.KindCompilation, "entry point %q is not an identifier", entry)
		}
		if v, err := vm.RunString(entry); err == nil {
			fn, ok = goja.AssertFunction(v)
		}
	}
	if !ok {
		return nil, types.Errorf(types.KindCompilation, "entry point %q is not a function", entry)
	}
	out, err := fn(goja.Undefined(), input)
	if err != nil {
		return nil, fault(ctx, err)
	}

	result, err := exportResult(out)
	if err != nil {
		return nil, err
	}
	return &types.ExecutionResult{Result: result, Logs: inv.Logs.Lines()}, nil
}

// install binds the input, console, context and capability objects.
func (r *Runtime) install(ctx context.Context, vm *goja.Runtime, inv *runtime.Invocation, input goja.Value) error {
	global := vm.GlobalObject()
	binding := inv.Binding
	if binding == "" {
		binding = runtime.BindParams
	}
	if err := global.Set(string(binding), input); err != nil {
		return err
	}
	if err := global.Set(string(binding.Other()), goja.Undefined()); err != nil {
		return err
	}

	console := vm.NewObject()
	for _, level := range []string{runtime.LevelLog, runtime.LevelInfo, runtime.LevelWarn, runtime.LevelError} {
		level := level
		if err := console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = formatArg(arg)
			}
			inv.Logs.Console(level, parts...)
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	if err := defineConst(vm, "console", console); err != nil {
		return err
	}

	if err := defineConst(vm, runtime.ContextObjectName, toValue(vm, inv.Metadata())); err != nil {
		return err
	}

	env := make(map[string]any)
	for k, v := range inv.Capabilities.Env() {
		env[k] = v
	}
	if err := defineConst(vm, "env", toValue(vm, env)); err != nil {
		return err
	}

	for _, capObj := range inv.Capabilities.Objects() {
		obj := vm.NewObject()
		for _, name := range capObj.MethodNames() {
			method := capObj.Methods[name]
			if err := obj.Set(name, func(call goja.FunctionCall) goja.Value {
				args := make([]any, len(call.Arguments))
				for i, arg := range call.Arguments {
					v, err := types.Normalize(arg.Export(), types.NumbersAsFloat)
					if err != nil {
						panic(vm.NewTypeError(err.Error()))
					}
					args[i] = v
				}
				res, err := method(ctx, args)
				if err != nil {
					panic(vm.NewGoError(err))
				}
				return toValue(vm, res)
			}); err != nil {
				return err
			}
		}
		if err := defineConst(vm, capObj.Name, obj); err != nil {
			return err
		}
	}
	return nil
}

// defineConst installs a frozen, non-writable global.
func defineConst(vm *goja.Runtime, name string, value goja.Value) error {
	if obj, ok := value.(*goja.Object); ok {
		freeze(vm, obj)
	}
	return vm.GlobalObject().DefineDataProperty(name, value, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func freeze(vm *goja.Runtime, obj *goja.Object) {
	for _, key := range obj.Keys() {
		if child, ok := obj.Get(key).(*goja.Object); ok {
			freeze(vm, child)
		}
	}
	if fn, ok := goja.AssertFunction(vm.Get("Object").ToObject(vm).Get("freeze")); ok {
		_, _ = fn(goja.Undefined(), obj)
	}
}

// toValue converts a value tree into native objects with sorted keys.
func toValue(vm *goja.Runtime, v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case int64:
		return vm.ToValue(float64(x))
	case []any:
		items := make([]any, len(x))
		for i, item := range x {
			items[i] = toValue(vm, item)
		}
		return vm.NewArray(items...)
	case map[string]any:
		obj := vm.NewObject()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_ = obj.Set(k, toValue(vm, x[k]))
		}
		return obj
	default:
		return vm.ToValue(x)
	}
}

func exportResult(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	exported := v.Export()
	if p, ok := exported.(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return exportResult(p.Result())
		case goja.PromiseStateRejected:
			return nil, types.NewError(types.KindExecution, p.Result().String())
		default:
			return nil, types.NewError(types.KindExecution, "returned promise did not settle")
		}
	}
	if _, ok := goja.AssertFunction(v); ok {
		return nil, types.NewError(types.KindExecution, "result is a function and cannot be returned")
	}
	out, err := types.Normalize(exported, types.NumbersAsFloat)
	if err != nil {
		return nil, types.NewError(types.KindExecution, "result is not serializable").WithCause(err)
	}
	return out, nil
}

func formatArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if _, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(v); !isFn {
			if tree, err := types.Normalize(v.Export(), types.NumbersAsFloat); err == nil {
				if raw, err := json.Marshal(tree); err == nil {
					return string(raw)
				}
			}
		}
	}
	return v.String()
}

func fault(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.NewError(types.KindTimeout, "execution exceeded its deadline").WithCause(err)
		}
		return types.NewError(types.KindExecution, "execution cancelled").WithCause(err)
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return types.NewError(types.KindExecution, "maximum call stack size exceeded").WithDetail(overflow.String())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg := ex.Error()
		if val := ex.Value(); val != nil {
			msg = val.String()
		}
		return types.NewError(types.KindExecution, msg).WithDetail(ex.String())
	}
	return types.NewError(types.KindExecution, err.Error()).WithCause(err)
}
