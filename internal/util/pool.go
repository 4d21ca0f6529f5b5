package util

import (
	"sync"
)

// BufferPool provides reusable byte buffers to reduce GC pressure while
// streaming plaintext through the cipher. Buffers are zeroed before being
// returned to the pool because they may hold plaintext.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Size returns the length of buffers handed out by the pool.
func (p *BufferPool) Size() int {
	return p.size
}

// Get retrieves a buffer from the pool.
// The buffer contents are undefined and should be overwritten.
func (p *BufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put zeroes b and returns it to the pool. Buffers of the wrong size are dropped.
func (p *BufferPool) Put(b []byte) {
	if len(b) != p.size {
		return
	}
	clear(b)
	p.pool.Put(&b)
}

// StreamPool hands out StreamBufferSize buffers for stream-mode ciphering
// and pack reads.
var StreamPool = NewBufferPool(StreamBufferSize)
