package types

import (
	"maps"
	"time"
)

// ExecutionContext carries the per-invocation limits and inputs.
type ExecutionContext struct {
	FunctionID string `json:"functionId,omitempty"`
	AccountID  string `json:"accountId,omitempty"`

	// MaxExecutionTime is in milliseconds; zero means the governor default.
	MaxExecutionTime int64 `json:"maxExecutionTime,omitempty"`
	// MaxMemory is in megabytes and advisory.
	MaxMemory int64 `json:"maxMemory,omitempty"`

	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty"`
	Event                any               `json:"event,omitempty"`
}

// Timeout converts MaxExecutionTime into a duration.
func (c *ExecutionContext) Timeout() time.Duration {
	if c == nil || c.MaxExecutionTime <= 0 {
		return 0
	}
	return time.Duration(c.MaxExecutionTime) * time.Millisecond
}

// Clone returns a copy whose environment map is not shared.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return &ExecutionContext{EnvironmentVariables: map[string]string{}}
	}
	out := *c
	out.EnvironmentVariables = maps.Clone(c.EnvironmentVariables)
	if out.EnvironmentVariables == nil {
		out.EnvironmentVariables = map[string]string{}
	}
	return &out
}

// ExecutionResult is the outcome of one successful invocation.
type ExecutionResult struct {
	Result any      `json:"result"`
	Logs   []string `json:"logs"`
}

// Event describes the trigger of an event-driven invocation.
type Event struct {
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
