// Package runtimetest is a conformance suite every runtime adapter runs
// from its own tests.
package runtimetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/enclaveflow/capability"
	"github.com/BaSui01/enclaveflow/runtime"
	"github.com/BaSui01/enclaveflow/types"
)

// Sources holds one program per scenario, written in the adapter's language.
type Sources struct {
	// Add defines add(params) returning params.a + params.b.
	Add string
	// Logs defines logTwice(params) logging "first <tag>" then "second <tag>".
	Logs string
	// Env defines readEnv() returning env.API_KEY.
	Env string
	// Throw defines fail() raising an error whose message contains "boom".
	Throw string
	// Spin defines spin() that never returns.
	Spin string
	// Recurse defines recurse(params) that calls itself without a base case.
	Recurse string
	// Event defines onEvent(event) returning {type: event.type, paramsUnset: <params is unbound>}.
	Event string
	// Capability defines hash() returning utils.sha256("abc").
	Capability string
	// Metadata defines meta() returning context.executionId.
	Metadata string
	// NotAFunction binds add to a non-callable value.
	NotAFunction string
	// Syntax is not valid source.
	Syntax string
}

// Expect holds language-specific expectations.
type Expect struct {
	// Twelve is the result of add({a: 5, b: 7}).
	Twelve any
}

// Invoke runs compiled with input bound as binding and a fresh capability set.
func Invoke(ctx context.Context, rt runtime.Runtime, compiled runtime.Compiled, binding runtime.Binding, input any, ec *types.ExecutionContext) (*types.ExecutionResult, error) {
	ec = ec.Clone()
	provider := capability.NewProvider(nil, capability.WithStorage(capability.NewMemoryStorage()))
	inv := &runtime.Invocation{
		Compiled:    compiled,
		EntryPoint:  compiled.EntryPoint(),
		Binding:     binding,
		Input:       input,
		Context:     ec,
		ExecutionID: fmt.Sprintf("exec-%d", time.Now().UnixNano()),
		Capabilities: provider.Bind(capability.Scope{
			AccountID:  ec.AccountID,
			FunctionID: ec.FunctionID,
			Env:        ec.EnvironmentVariables,
		}),
		Logs: runtime.NewLogBuffer(0),
	}
	return rt.Execute(ctx, inv)
}

func mustCompile(t *testing.T, rt runtime.Runtime, source, entry string) runtime.Compiled {
	t.Helper()
	compiled, err := rt.Compile(source, entry)
	require.NoError(t, err)
	require.Equal(t, rt.ID(), compiled.Runtime())
	require.Equal(t, entry, compiled.EntryPoint())
	return compiled
}

// Run executes the suite.
func Run(t *testing.T, rt runtime.Runtime, src Sources, want Expect) {
	ctx := context.Background()

	t.Run("AddReturnsSum", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Add, "add")
		res, err := Invoke(ctx, rt, compiled, runtime.BindParams, map[string]any{"a": int64(5), "b": int64(7)}, nil)
		require.NoError(t, err)
		assert.Equal(t, want.Twelve, res.Result)
		assert.Empty(t, res.Logs)
	})

	t.Run("CompiledIsReusable", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Add, "add")
		for i := 0; i < 3; i++ {
			res, err := Invoke(ctx, rt, compiled, runtime.BindParams, map[string]any{"a": int64(5), "b": int64(7)}, nil)
			require.NoError(t, err)
			assert.Equal(t, want.Twelve, res.Result)
		}
	})

	t.Run("CompileIsDeterministic", func(t *testing.T) {
		_, err1 := rt.Compile(src.Add, "missing")
		_, err2 := rt.Compile(src.Add, "missing")
		require.Error(t, err1)
		assert.Equal(t, err1.Error(), err2.Error())
	})

	t.Run("MissingEntryPoint", func(t *testing.T) {
		_, err := rt.Compile(src.Add, "subtract")
		assert.True(t, types.IsKind(err, types.KindCompilation), "got %v", err)

		_, err = rt.Compile(src.Add, "")
		assert.True(t, types.IsKind(err, types.KindCompilation), "got %v", err)
	})

	t.Run("EntryPointNotCallable", func(t *testing.T) {
		_, err := rt.Compile(src.NotAFunction, "add")
		assert.True(t, types.IsKind(err, types.KindCompilation), "got %v", err)
	})

	t.Run("SyntaxError", func(t *testing.T) {
		_, err := rt.Compile(src.Syntax, "add")
		assert.True(t, types.IsKind(err, types.KindCompilation), "got %v", err)
	})

	t.Run("LogsInOrderWithoutCrossTalk", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Logs, "logTwice")

		var wg sync.WaitGroup
		results := make([]*types.ExecutionResult, 8)
		errs := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = Invoke(ctx, rt, compiled, runtime.BindParams, map[string]any{"tag": fmt.Sprint(i)}, nil)
			}(i)
		}
		wg.Wait()

		for i, res := range results {
			require.NoError(t, errs[i])
			assert.Equal(t, []string{"first " + fmt.Sprint(i), "second " + fmt.Sprint(i)}, res.Logs)
		}
	})

	t.Run("EnvironmentVisible", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Env, "readEnv")
		res, err := Invoke(ctx, rt, compiled, runtime.BindParams, nil, &types.ExecutionContext{
			EnvironmentVariables: map[string]string{"API_KEY": "k-123"},
		})
		require.NoError(t, err)
		assert.Equal(t, "k-123", res.Result)
	})

	t.Run("ThrowBecomesExecutionError", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Throw, "fail")
		_, err := Invoke(ctx, rt, compiled, runtime.BindParams, nil, nil)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindExecution), "got %v", err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("CancellationStopsInfiniteLoop", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Spin, "spin")
		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := Invoke(ctx, rt, compiled, runtime.BindParams, nil, nil)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindTimeout), "got %v", err)
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("DeepRecursionIsContained", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Recurse, "recurse")
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		_, err := Invoke(ctx, rt, compiled, runtime.BindParams, map[string]any{}, nil)
		require.Error(t, err)
		assert.True(t, types.IsKind(err, types.KindExecution), "got %v", err)

		add := mustCompile(t, rt, src.Add, "add")
		res, err := Invoke(ctx, rt, add, runtime.BindParams, map[string]any{"a": int64(5), "b": int64(7)}, nil)
		require.NoError(t, err)
		assert.Equal(t, want.Twelve, res.Result)
	})

	t.Run("EventBindingDistinctFromParams", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Event, "onEvent")
		res, err := Invoke(ctx, rt, compiled, runtime.BindEvent, map[string]any{"type": "created"}, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"type": "created", "paramsUnset": true}, res.Result)
	})

	t.Run("CapabilityCall", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Capability, "hash")
		res, err := Invoke(ctx, rt, compiled, runtime.BindParams, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", res.Result)
	})

	t.Run("ContextObject", func(t *testing.T) {
		compiled := mustCompile(t, rt, src.Metadata, "meta")
		res, err := Invoke(ctx, rt, compiled, runtime.BindParams, nil, nil)
		require.NoError(t, err)
		id, ok := res.Result.(string)
		require.True(t, ok, "got %T", res.Result)
		assert.Contains(t, id, "exec-")
	})
}
