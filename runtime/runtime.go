// Package runtime defines the contract shared by the language adapters and
// the registry the executor resolves them through.
package runtime

import (
	"context"

	"github.com/BaSui01/enclaveflow/capability"
	"github.com/BaSui01/enclaveflow/types"
)

// ID names a runtime adapter.
type ID string

const (
	JavaScript ID = "javascript"
	Python     ID = "python"
	Lua        ID = "lua"
)

// Binding selects the name the input is bound to inside the sandbox.
type Binding string

const (
	BindParams Binding = "params"
	BindEvent  Binding = "event"
)

// Other returns the binding that must stay unset.
func (b Binding) Other() Binding {
	if b == BindEvent {
		return BindParams
	}
	return BindEvent
}

// ContextObjectName is the read-only invocation metadata object.
const ContextObjectName = "context"

// Compiled is an adapter-specific compiled artifact. Implementations are
// immutable and safe to execute concurrently.
type Compiled interface {
	Runtime() ID
	EntryPoint() string
}

// Runtime is one language adapter.
type Runtime interface {
	ID() ID
	// Compile is deterministic: the same source and entry point always
	// produce the same outcome.
	Compile(source, entryPoint string) (Compiled, error)
	// Execute runs one invocation in a fresh sandbox. It must stop promptly
	// once ctx is done.
	Execute(ctx context.Context, inv *Invocation) (*types.ExecutionResult, error)
}

// Invocation is everything one Execute call needs.
type Invocation struct {
	Compiled   Compiled
	EntryPoint string
	Binding    Binding
	// Input is a value tree; adapters convert it to native values.
	Input        any
	Context      *types.ExecutionContext
	ExecutionID  string
	Capabilities *capability.Set
	Logs         *LogBuffer
}

// Metadata is the read-only context object exposed to user code.
func (inv *Invocation) Metadata() map[string]any {
	md := map[string]any{"executionId": inv.ExecutionID, "functionId": "", "accountId": ""}
	if inv.Context != nil {
		md["functionId"] = inv.Context.FunctionID
		md["accountId"] = inv.Context.AccountID
	}
	return md
}

// Predeclared lists every global name an adapter injects.
func Predeclared() []string {
	names := append([]string{}, capability.Names...)
	return append(names, string(BindParams), string(BindEvent), ContextObjectName)
}
