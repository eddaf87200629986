package python

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const maxDepth = 256

func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case float64:
		return starlark.Float(x), nil
	case string:
		return starlark.String(x), nil
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, item := range x {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(x))
		for _, k := range keys {
			sv, err := toStarlark(x[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

func fromStarlark(v starlark.Value, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i, nil
		}
		return float64(x.Float()), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Bytes:
		return string(x), nil
	case *starlark.List:
		return fromIndexable(x, depth)
	case starlark.Tuple:
		return fromIndexable(x, depth)
	case *starlark.Set:
		out := make([]any, 0, x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			gv, err := fromStarlark(item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, kv := range x.Items() {
			key, ok := kv[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0].String())
			}
			gv, err := fromStarlark(kv[1], depth+1)
			if err != nil {
				return nil, err
			}
			out[string(key)] = gv
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range x.AttrNames() {
			attr, err := x.Attr(name)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlark(attr, depth+1)
			if err != nil {
				return nil, err
			}
			out[name] = gv
		}
		return out, nil
	case envMapping:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert value of type %s", v.Type())
}

func fromIndexable(x starlark.Indexable, depth int) ([]any, error) {
	out := make([]any, x.Len())
	for i := range out {
		gv, err := fromStarlark(x.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = gv
	}
	return out, nil
}

// envMapping is the read-only env binding. It supports env.NAME,
// env["NAME"] and env.get("NAME", default).
type envMapping map[string]string

var (
	_ starlark.HasAttrs = envMapping(nil)
	_ starlark.Mapping  = envMapping(nil)
)

func (e envMapping) String() string        { return fmt.Sprintf("env(%d entries)", len(e)) }
func (e envMapping) Type() string          { return "env" }
func (e envMapping) Freeze()               {}
func (e envMapping) Truth() starlark.Bool  { return len(e) > 0 }
func (e envMapping) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: env") }

func (e envMapping) Get(k starlark.Value) (starlark.Value, bool, error) {
	key, ok := k.(starlark.String)
	if !ok {
		return nil, false, fmt.Errorf("env keys are strings, got %s", k.Type())
	}
	v, found := e[string(key)]
	if !found {
		return nil, false, nil
	}
	return starlark.String(v), true, nil
}

func (e envMapping) Attr(name string) (starlark.Value, error) {
	if name == "get" {
		return starlark.NewBuiltin("env.get", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			var def starlark.Value = starlark.None
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &def); err != nil {
				return nil, err
			}
			if v, ok := e[key]; ok {
				return starlark.String(v), nil
			}
			return def, nil
		}), nil
	}
	if v, ok := e[name]; ok {
		return starlark.String(v), nil
	}
	return nil, nil
}

func (e envMapping) AttrNames() []string {
	names := make([]string, 0, len(e)+1)
	for k := range e {
		names = append(names, k)
	}
	names = append(names, "get")
	sort.Strings(names)
	return names
}
