package optimize

import (
	"bytes"
	"sync"
)

// BufferPool hands out reusable byte buffers. Buffers that grew beyond
// maxRetained are dropped instead of being returned to the pool.
type BufferPool struct {
	pool        sync.Pool
	maxRetained int
}

// NewBufferPool creates a pool whose buffers start with size bytes of
// capacity.
func NewBufferPool(size, maxRetained int) *BufferPool {
	if maxRetained < size {
		maxRetained = size
	}
	return &BufferPool{
		maxRetained: maxRetained,
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, size))
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. The caller must not use buf afterwards.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > p.maxRetained {
		return
	}
	p.pool.Put(buf)
}
