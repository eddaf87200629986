package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer keeps oversized buffers out of the pool.
const maxPooledBuffer = 1 << 20

// Pool is a generic object pool with usage counters.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T)
	keep  func(T) bool

	gets atomic.Int64
	puts atomic.Int64
	news atomic.Int64
}

// NewPool creates a pool. reset runs on Put; keep, when set, decides whether
// an object is worth returning to the pool.
func NewPool[T any](newFunc func() T, reset func(*T), keep func(T) bool) *Pool[T] {
	p := &Pool[T]{reset: reset, keep: keep}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns obj to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.keep != nil && !p.keep(obj) {
		return
	}
	p.puts.Add(1)
	if p.reset != nil {
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{Gets: p.gets.Load(), Puts: p.puts.Load(), News: p.news.Load()}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Gets int64 `json:"gets"`
	Puts int64 `json:"puts"`
	News int64 `json:"news"`
}

// HitRate returns the share of Gets served without allocating.
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// BufferPool holds the buffers frames are assembled in.
var BufferPool = NewPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 4096)) },
	func(b **bytes.Buffer) { (*b).Reset() },
	func(b *bytes.Buffer) bool { return b.Cap() <= maxPooledBuffer },
)
