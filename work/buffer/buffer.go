package buffer

import (
	"io"
	"runtime"

	"github.com/valyala/bytebufferpool"
)

// BufferPool is a thread-safe pool of growable byte stores backing response
// streams. It leverages valyala/bytebufferpool for buffer reuse, so the
// in-memory store of one proxied response is recycled for the next one once
// that response is closed.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int // replay retention per stream in bytes
	chunkSize  int
}

// NewBufferPool creates a new BufferPool whose streams retain up to
// bufferSize bytes for replay and pull upstream data chunkSize bytes at a time.
func NewBufferPool(bufferSize int64, chunkSize int) *BufferPool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BufferPool{
		bufferSize: int(bufferSize),
		chunkSize:  chunkSize,
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves an empty byte store from the pool.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	return buf
}

// Put returns a byte store to the pool. Nil stores are ignored.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// NewStream wraps src in a Stream backed by a pooled store.
func (bp *BufferPool) NewStream(src io.ReadCloser) *Stream {
	return newStream(src, bp.chunkSize, bp.bufferSize, bp)
}

// ChunkSize is the chunk size streams from this pool use.
func (bp *BufferPool) ChunkSize() int {
	return bp.chunkSize
}

// Cleanup performs garbage collection to reclaim pooled memory. Intended for
// application shutdown.
func (bp *BufferPool) Cleanup() {
	// bytebufferpool handles its own cleanup
	runtime.GC()
}
