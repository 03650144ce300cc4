package ws

import "github.com/valyala/bytebufferpool"

// bufferPool supplies the buffers for fragmentation reassembly; read chunks
// and decoded frame payloads are plain allocations. Backed by bytebufferpool rather than a hand-rolled sync.Pool
// tier set — see DESIGN.md for the rationale.
var bufferPool bytebufferpool.Pool

// getBuffer acquires a pooled, empty buffer.
func getBuffer() *bytebufferpool.ByteBuffer {
	return bufferPool.Get()
}

// putBuffer returns a buffer to the pool. Safe to call with nil.
func putBuffer(b *bytebufferpool.ByteBuffer) {
	if b == nil {
		return
	}
	bufferPool.Put(b)
}
