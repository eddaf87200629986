package runtime

import (
	"fmt"
	"strings"
	"sync"
)

// Log levels understood by Console.
const (
	LevelLog   = "log"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// DefaultMaxLogLines caps one invocation's log.
const DefaultMaxLogLines = 1000

// LogBuffer collects the log lines of a single invocation in call order.
type LogBuffer struct {
	mu        sync.Mutex
	lines     []string
	max       int
	truncated int
}

// NewLogBuffer creates a buffer holding at most maxLines lines.
func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = DefaultMaxLogLines
	}
	return &LogBuffer{max: maxLines}
}

// Append records one line.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= b.max {
		b.truncated++
		return
	}
	b.lines = append(b.lines, line)
}

// Console records a console-style call. Plain log has no prefix, other
// levels are prefixed with the upper-cased level.
func (b *LogBuffer) Console(level string, parts ...string) {
	msg := strings.Join(parts, " ")
	if level != LevelLog && level != "" {
		msg = fmt.Sprintf("%s: %s", strings.ToUpper(level), msg)
	}
	b.Append(msg)
}

// Lines returns a copy of the captured lines. When lines were dropped a
// final marker line says how many.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines), len(b.lines)+1)
	copy(out, b.lines)
	if b.truncated > 0 {
		out = append(out, fmt.Sprintf("... %d log lines dropped", b.truncated))
	}
	return out
}
