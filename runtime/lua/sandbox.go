package lua

import (
	"context"
	"fmt"
	"sort"
	"strings"

	glua "github.com/yuin/gopher-lua"

	"github.com/BaSui01/enclaveflow/runtime"
)

const maxDepth = 256

// install opens the safe libraries and binds input, console, context, env
// and the capability tables.
func (r *Runtime) install(ctx context.Context, L *glua.LState, inv *runtime.Invocation) error {
	libs := []struct {
		name string
		open glua.LGFunction
	}{
		{glua.BaseLibName, glua.OpenBase},
		{glua.TabLibName, glua.OpenTable},
		{glua.StringLibName, glua.OpenString},
		{glua.MathLibName, glua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(glua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, glua.LString(lib.name)); err != nil {
			return err
		}
	}
	for _, name := range unsafeGlobals {
		L.SetGlobal(name, glua.LNil)
	}
	L.SetGlobal("pcall", L.NewFunction(guardedPcall(ctx)))
	L.SetGlobal("xpcall", glua.LNil)

	L.SetGlobal("print", L.NewFunction(func(L *glua.LState) int {
		inv.Logs.Append(strings.Join(stringArgs(L), " "))
		return 0
	}))

	console := L.NewTable()
	for _, level := range []string{runtime.LevelLog, runtime.LevelInfo, runtime.LevelWarn, runtime.LevelError} {
		level := level
		console.RawSetString(level, L.NewFunction(func(L *glua.LState) int {
			inv.Logs.Console(level, stringArgs(L)...)
			return 0
		}))
	}
	L.SetGlobal("console", readOnly(L, "console", console))

	binding := inv.Binding
	if binding == "" {
		binding = runtime.BindParams
	}
	input, err := toLua(L, inv.Input, 0)
	if err != nil {
		return err
	}
	L.SetGlobal(string(binding), input)
	L.SetGlobal(string(binding.Other()), glua.LNil)

	md, err := toLua(L, inv.Metadata(), 0)
	if err != nil {
		return err
	}
	L.SetGlobal(runtime.ContextObjectName, readOnly(L, runtime.ContextObjectName, md.(*glua.LTable)))

	env := L.NewTable()
	for k, v := range inv.Capabilities.Env() {
		env.RawSetString(k, glua.LString(v))
	}
	L.SetGlobal("env", readOnly(L, "env", env))

	for _, obj := range inv.Capabilities.Objects() {
		fields := L.NewTable()
		proxy := readOnly(L, obj.Name, fields)
		for _, name := range obj.MethodNames() {
			method := obj.Methods[name]
			qualified := obj.Name + "." + name
			fields.RawSetString(name, L.NewFunction(func(L *glua.LState) int {
				top := L.GetTop()
				args := make([]any, 0, top)
				for i := 1; i <= top; i++ {
					v := L.Get(i)
					// obj:method() passes the table itself first
					if t, ok := v.(*glua.LTable); ok && i == 1 && t == proxy {
						continue
					}
					gv, err := fromLua(v, 0)
					if err != nil {
						L.RaiseError("%s: %s", qualified, err.Error())
						return 0
					}
					args = append(args, gv)
				}
				res, err := method(ctx, args)
				if err != nil {
					L.RaiseError("%s", err.Error())
					return 0
				}
				lv, err := toLua(L, res, 0)
				if err != nil {
					L.RaiseError("%s: %s", qualified, err.Error())
					return 0
				}
				L.Push(lv)
				return 1
			}))
		}
		L.SetGlobal(obj.Name, proxy)
	}
	return nil
}

// guardedPcall behaves like pcall but re-raises once ctx is done, so a
// cancelled invocation cannot swallow its own interruption.
func guardedPcall(ctx context.Context) glua.LGFunction {
	return func(L *glua.LState) int {
		if L.GetTop() < 1 {
			L.ArgError(1, "value expected")
			return 0
		}
		err := L.PCall(L.GetTop()-1, glua.MultRet, nil)
		if ctx.Err() != nil {
			L.RaiseError("%s", ctx.Err().Error())
			return 0
		}
		if err != nil {
			var msg glua.LValue = glua.LString(err.Error())
			if apiErr, ok := err.(*glua.ApiError); ok && apiErr.Object != nil {
				msg = apiErr.Object
			}
			L.Push(glua.LFalse)
			L.Push(msg)
			return 2
		}
		if L.GetTop() == 0 {
			L.Push(glua.LTrue)
			return 1
		}
		L.Insert(glua.LTrue, 1)
		return L.GetTop()
	}
}

// readOnly wraps fields in an empty proxy whose writes raise an error.
func readOnly(L *glua.LState, name string, fields *glua.LTable) *glua.LTable {
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", fields)
	mt.RawSetString("__newindex", L.NewFunction(func(L *glua.LState) int {
		L.RaiseError("%s is read-only", name)
		return 0
	}))
	mt.RawSetString("__metatable", glua.LString("locked"))
	L.SetMetatable(proxy, mt)
	return proxy
}

func stringArgs(L *glua.LState) []string {
	top := L.GetTop()
	parts := make([]string, top)
	for i := 1; i <= top; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	return parts
}

// toLua converts a value tree. Every number becomes an LNumber (float64).
func toLua(L *glua.LState, v any, depth int) (glua.LValue, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch x := v.(type) {
	case nil:
		return glua.LNil, nil
	case bool:
		return glua.LBool(x), nil
	case int64:
		return glua.LNumber(float64(x)), nil
	case int:
		return glua.LNumber(float64(x)), nil
	case float64:
		return glua.LNumber(x), nil
	case string:
		return glua.LString(x), nil
	case []any:
		tbl := L.CreateTable(len(x), 0)
		for i, item := range x {
			lv, err := toLua(L, item, depth+1)
			if err != nil {
				return nil, err
			}
			tbl.RawSetInt(i+1, lv)
		}
		return tbl, nil
	case map[string]any:
		tbl := L.CreateTable(0, len(x))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lv, err := toLua(L, x[k], depth+1)
			if err != nil {
				return nil, err
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

// fromLua converts a Lua value back into a value tree. A table whose keys
// are exactly 1..n becomes a list; any other table becomes a map, the empty
// table included.
func fromLua(v glua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch x := v.(type) {
	case *glua.LNilType:
		return nil, nil
	case glua.LBool:
		return bool(x), nil
	case glua.LNumber:
		return float64(x), nil
	case glua.LString:
		return string(x), nil
	case *glua.LTable:
		return fromTable(x, depth)
	}
	return nil, fmt.Errorf("cannot convert value of type %s", v.Type().String())
}

func fromTable(t *glua.LTable, depth int) (any, error) {
	count := 0
	t.ForEach(func(glua.LValue, glua.LValue) { count++ })

	if n := t.MaxN(); n > 0 && n == count {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			gv, err := fromLua(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i-1] = gv
		}
		return out, nil
	}

	out := make(map[string]any, count)
	var firstErr error
	t.ForEach(func(k, val glua.LValue) {
		if firstErr != nil {
			return
		}
		var key string
		switch kk := k.(type) {
		case glua.LString:
			key = string(kk)
		case glua.LNumber:
			key = kk.String()
		default:
			firstErr = fmt.Errorf("table key of type %s is not supported", k.Type().String())
			return
		}
		gv, err := fromLua(val, depth+1)
		if err != nil {
			firstErr = err
			return
		}
		out[key] = gv
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
