package capability

import "fmt"

func argString(args []any, i int, call, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", fmt.Errorf("%s: %s is required", call, name)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: %s must be a string, got %T", call, name, args[i])
	}
	return s, nil
}

func argOptionalString(args []any, i int, call, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", nil
	}
	return argString(args, i, call, name)
}

func argAny(args []any, i int) any {
	if i >= len(args) {
		return nil
	}
	return args[i]
}

func argStringMap(args []any, i int, call, name string) (map[string]string, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	m, ok := args[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: %s must be an object, got %T", call, name, args[i])
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: %s.%s must be a string", call, name, k)
		}
		out[k] = s
	}
	return out, nil
}
