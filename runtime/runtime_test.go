package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/enclaveflow/types"
)

type stubRuntime struct{ id ID }

func (s stubRuntime) ID() ID { return s.id }
func (s stubRuntime) Compile(string, string) (Compiled, error) {
	return nil, nil
}
func (s stubRuntime) Execute(context.Context, *Invocation) (*types.ExecutionResult, error) {
	return &types.ExecutionResult{}, nil
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(stubRuntime{id: Python}, stubRuntime{id: JavaScript})
	require.NoError(t, err)
	assert.Equal(t, []ID{JavaScript, Python}, reg.IDs())

	rt, err := reg.Lookup(Python)
	require.NoError(t, err)
	assert.Equal(t, Python, rt.ID())

	_, err = reg.Lookup("cobol")
	assert.True(t, types.IsKind(err, types.KindUnsupportedRuntime))

	assert.Error(t, reg.Register(stubRuntime{id: Python}))
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(stubRuntime{}))

	_, err = NewRegistry()
	assert.Error(t, err)
}

func TestLogBuffer_ConsoleLevels(t *testing.T) {
	b := NewLogBuffer(0)
	b.Console(LevelLog, "plain", "text")
	b.Console(LevelInfo, "ready")
	b.Console(LevelWarn, "careful")
	b.Console(LevelError, "failed")

	assert.Equal(t, []string{"plain text", "INFO: ready", "WARN: careful", "ERROR: failed"}, b.Lines())
}

func TestLogBuffer_Truncates(t *testing.T) {
	b := NewLogBuffer(2)
	for i := 0; i < 5; i++ {
		b.Append(fmt.Sprint(i))
	}
	assert.Equal(t, []string{"0", "1", "... 3 log lines dropped"}, b.Lines())
}

func TestLogBuffer_ConcurrentAppend(t *testing.T) {
	b := NewLogBuffer(10000)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Append("x")
			}
		}()
	}
	wg.Wait()
	assert.Len(t, b.Lines(), 800)
}

func TestInvocation_Metadata(t *testing.T) {
	inv := &Invocation{ExecutionID: "e1", Context: &types.ExecutionContext{FunctionID: "f", AccountID: "a"}}
	assert.Equal(t, map[string]any{"executionId": "e1", "functionId": "f", "accountId": "a"}, inv.Metadata())

	assert.Equal(t, BindParams, BindEvent.Other())
	assert.Contains(t, Predeclared(), "params")
	assert.Contains(t, Predeclared(), "wallet")
}
