package metrics

import (
	"os"
	goruntime "runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/procfs"
)

// =============================================================================
// 🧮 进程级计数器
// =============================================================================

// Counters 进程级计数器，enclave 启动时创建一次
type Counters struct {
	requestCount atomic.Int64
	startTime    time.Time
	pid          int
}

// NewCounters 创建计数器并记录启动时间
func NewCounters() *Counters {
	return &Counters{startTime: time.Now(), pid: os.Getpid()}
}

// IncRequests 请求计数加一
func (c *Counters) IncRequests() {
	c.requestCount.Add(1)
}

// RequestCount 返回已调度请求数
func (c *Counters) RequestCount() int64 {
	return c.requestCount.Load()
}

// StartTime 返回进程启动时间
func (c *Counters) StartTime() time.Time {
	return c.startTime
}

// Uptime 返回运行时长
func (c *Counters) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Snapshot metrics 操作返回的只读快照
type Snapshot struct {
	RequestCount   int64     `json:"requestCount"`
	UptimeMs       int64     `json:"uptimeMs"`
	StartTime      time.Time `json:"startTime"`
	CPUSeconds     float64   `json:"cpuSeconds"`
	MemoryBytes    uint64    `json:"memoryBytes"`
	Goroutines     int       `json:"goroutines"`
	HeapAllocBytes uint64    `json:"heapAllocBytes"`
}

// Snapshot 采样当前值。/proc 不可用时 CPU 为 0，内存退回到 Go 运行时统计。
func (c *Counters) Snapshot() Snapshot {
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)

	s := Snapshot{
		RequestCount:   c.RequestCount(),
		UptimeMs:       c.Uptime().Milliseconds(),
		StartTime:      c.startTime,
		MemoryBytes:    ms.Sys,
		Goroutines:     goruntime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
	}
	if proc, err := procfs.NewProc(c.pid); err == nil {
		if stat, err := proc.Stat(); err == nil {
			s.CPUSeconds = stat.CPUTime()
			if rss := stat.ResidentMemory(); rss > 0 {
				s.MemoryBytes = uint64(rss)
			}
		}
	}
	return s
}
