package lua

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/runtime"
	"github.com/BaSui01/enclaveflow/runtime/runtimetest"
	"github.com/BaSui01/enclaveflow/types"
)

func newRuntime() *Runtime {
	return New(DefaultConfig(), zap.NewNop())
}

func TestConformance(t *testing.T) {
	runtimetest.Run(t, newRuntime(), runtimetest.Sources{
		Add: `
function add(params)
  return params.a + params.b
end
`,
		Logs: `
function logTwice(p)
  print("first", p.tag)
  print("second", p.tag)
end
`,
		Env: `
function readEnv()
  return env.API_KEY
end
`,
		Throw: `
function fail()
  error("boom")
end
`,
		Spin: `
function spin()
  while true do end
end
`,
		Recurse: `
function recurse(p)
  return 1 + recurse(p)
end
`,
		Event: `
function onEvent(e)
  return { type = event.type, paramsUnset = (params == nil) }
end
`,
		Capability: `
function hash()
  return utils.sha256("abc")
end
`,
		Metadata: `
function meta()
  return context.executionId
end
`,
		NotAFunction: `add = 5`,
		Syntax:       `function add(`,
	}, runtimetest.Expect{Twelve: 12.0})
}

func invoke(t *testing.T, source, entry string, input any, ec *types.ExecutionContext) (*types.ExecutionResult, error) {
	t.Helper()
	rt := newRuntime()
	compiled, err := rt.Compile(source, entry)
	require.NoError(t, err)
	return runtimetest.Invoke(context.Background(), rt, compiled, runtime.BindParams, input, ec)
}

// --- Compile ---

func TestCompile_EntryPointForms(t *testing.T) {
	rt := newRuntime()
	for name, src := range map[string]string{
		"statement":  `function main() return 1 end`,
		"assignment": `main = function() return 1 end`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := rt.Compile(src, "main")
			assert.NoError(t, err)
		})
	}
}

func TestCompile_LocalFunctionIsNotAnEntryPoint(t *testing.T) {
	_, err := newRuntime().Compile(`local function main() return 1 end`, "main")
	assert.True(t, types.IsKind(err, types.KindCompilation), "got %v", err)
}

// --- Sandbox ---

func TestExecute_HostLibrariesAbsent(t *testing.T) {
	res, err := invoke(t, `
function main()
  return { io = io == nil, os = os == nil, require = require == nil, load = load == nil, dofile = dofile == nil }
end
`, "main", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"io": true, "os": true, "require": true, "load": true, "dofile": true}, res.Result)
}

func TestExecute_ReadOnlyTables(t *testing.T) {
	_, err := invoke(t, `
function main()
  env.API_KEY = "changed"
end
`, "main", nil, &types.ExecutionContext{EnvironmentVariables: map[string]string{"API_KEY": "x"}})
	assert.True(t, types.IsKind(err, types.KindExecution), "got %v", err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestExecute_ColonAndDotCallsAgree(t *testing.T) {
	res, err := invoke(t, `
function main()
  return { dot = utils.base64Encode("hi"), colon = utils:base64Encode("hi") }
end
`, "main", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"dot": "aGk=", "colon": "aGk="}, res.Result)
}

func TestExecute_NumbersAreDoubles(t *testing.T) {
	res, err := invoke(t, `
function main(p)
  return { n = p.n, list = p.list }
end
`, "main", map[string]any{"n": int64(3), "list": []any{int64(1), "x"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 3.0, "list": []any{1.0, "x"}}, res.Result)
}

func TestExecute_TableShapes(t *testing.T) {
	res, err := invoke(t, `
function main()
  return { empty = {}, sparse = { [1] = "a", [3] = "c" } }
end
`, "main", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"empty":  map[string]any{},
		"sparse": map[string]any{"1": "a", "3": "c"},
	}, res.Result)
}

func TestExecute_ConsoleLevels(t *testing.T) {
	res, err := invoke(t, `
function main()
  console.log("plain")
  console.warn("careful", 2)
end
`, "main", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", "WARN: careful 2"}, res.Logs)
}

func TestExecute_PcallCatchesCapabilityError(t *testing.T) {
	res, err := invoke(t, `
function main()
  local ok, msg = pcall(utils.base64Decode, "%%%")
  return { ok = ok, failed = msg ~= nil }
end
`, "main", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": false, "failed": true}, res.Result)
}

func TestExecute_PcallCannotSwallowCancellation(t *testing.T) {
	rt := newRuntime()
	compiled, err := rt.Compile(`
function main()
  while true do
    pcall(function() while true do end end)
  end
end
`, "main")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = runtimetest.Invoke(ctx, rt, compiled, runtime.BindParams, nil, nil)
	assert.True(t, types.IsKind(err, types.KindTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecute_FunctionResultRejected(t *testing.T) {
	_, err := invoke(t, `
function main()
  return main
end
`, "main", nil, nil)
	assert.True(t, types.IsKind(err, types.KindExecution), "got %v", err)
}

func TestExecute_RegistryLimitFromMaxMemory(t *testing.T) {
	rt := New(Config{RegistrySize: 64, RegistryMaxSize: 128}, nil)
	assert.Equal(t, 128, rt.registryMax(nil))
	assert.Equal(t, 2*slotsPerMB, rt.registryMax(&types.ExecutionContext{MaxMemory: 2}))
}
