// Package optimization provides allocation-reducing helpers for the scanning hot path.
package optimization

import (
	"sync"
	"sync/atomic"
)

// DefaultChunkSize is the read chunk used when streaming files.
const DefaultChunkSize = 64 * 1024

// =============================================================================
// Buffer Pools
// =============================================================================

// BufferPool provides a pool of reusable fixed-size byte buffers.
type BufferPool struct {
	pool sync.Pool
	size int
	gets atomic.Uint64
	puts atomic.Uint64
	news atomic.Uint64
}

// NewBufferPool creates a new buffer pool with the specified buffer size.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		bp.news.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return bp
}

// Size returns the length of buffers handed out by the pool.
func (bp *BufferPool) Size() int {
	return bp.size
}

// Get retrieves a buffer from the pool. The contents are unspecified.
func (bp *BufferPool) Get() *[]byte {
	bp.gets.Add(1)
	return bp.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers of the wrong capacity are dropped.
func (bp *BufferPool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) < bp.size {
		return
	}
	*buf = (*buf)[:bp.size]
	bp.pool.Put(buf)
	bp.puts.Add(1)
}

// Stats returns pool statistics.
func (bp *BufferPool) Stats() (gets, puts, news uint64) {
	return bp.gets.Load(), bp.puts.Load(), bp.news.Load()
}

// HitRate returns the pool hit rate as a percentage.
func (bp *BufferPool) HitRate() float64 {
	gets := bp.gets.Load()
	news := bp.news.Load()
	if gets == 0 {
		return 0
	}
	return float64(gets-news) / float64(gets) * 100
}

// ChunkPool is the process-wide pool of DefaultChunkSize buffers used for file reads.
var ChunkPool = NewBufferPool(DefaultChunkSize)
