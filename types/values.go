package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// NumberMode selects how numbers are represented in a value tree.
type NumberMode int

const (
	// PreserveIntegers keeps integral numbers as int64.
	PreserveIntegers NumberMode = iota
	// NumbersAsFloat turns every number into float64.
	NumbersAsFloat
)

// maxDepth bounds nesting so cyclic or hostile structures terminate.
const maxDepth = 256

// Normalize converts v into the canonical value tree: nil, bool, float64,
// int64, string, []any and map[string]any.
func Normalize(v any, mode NumberMode) (any, error) {
	return normalize(v, mode, 0)
}

func normalize(v any, mode NumberMode, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return x, nil
	case json.Number:
		return normalizeNumber(x, mode)
	case float64:
		return finite(x), nil
	case float32:
		return finite(float64(x)), nil
	case int:
		return integer(int64(x), mode), nil
	case int8:
		return integer(int64(x), mode), nil
	case int16:
		return integer(int64(x), mode), nil
	case int32:
		return integer(int64(x), mode), nil
	case int64:
		return integer(x, mode), nil
	case uint:
		return unsigned(uint64(x), mode), nil
	case uint8:
		return unsigned(uint64(x), mode), nil
	case uint16:
		return unsigned(uint64(x), mode), nil
	case uint32:
		return unsigned(uint64(x), mode), nil
	case uint64:
		return unsigned(x, mode), nil
	case []byte:
		return string(x), nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			n, err := normalize(item, mode, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			n, err := normalize(item, mode, depth+1)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = item
		}
		return out, nil
	}
	return normalizeReflect(v, mode, depth)
}

func normalizeReflect(v any, mode NumberMode, depth int) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			n, err := normalize(rv.Index(i).Interface(), mode, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := normalize(iter.Value().Interface(), mode, depth+1)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}

	// Structs and named types go through their JSON form.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported value of type %T: %w", v, err)
	}
	var decoded any
	if err := UnmarshalTree(raw, &decoded); err != nil {
		return nil, err
	}
	return normalize(decoded, mode, depth+1)
}

func normalizeNumber(n json.Number, mode NumberMode) (any, error) {
	if mode == PreserveIntegers {
		if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return finite(f), nil
}

// finite maps NaN and infinities to nil, as JSON.stringify does.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func integer(i int64, mode NumberMode) any {
	if mode == NumbersAsFloat {
		return float64(i)
	}
	return i
}

func unsigned(u uint64, mode NumberMode) any {
	if mode == NumbersAsFloat || u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// UnmarshalTree decodes JSON keeping numbers as json.Number.
func UnmarshalTree(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}
