// Package bufpool pools fixed-size datagram buffers so the socket read path
// doesn't allocate on every inbound packet. Grounded on the original
// implementation's array pool (original_source/src/net/array_pool.rs),
// expressed the Go-idiomatic way via sync.Pool rather than translated.
package bufpool

import "sync"

// MTUBufSize is large enough to hold any single UDP datagram this
// transport produces (magic + fragment header + one fragment chunk),
// with headroom for typical path MTUs.
const MTUBufSize = 2048

var pool = sync.Pool{
	New: func() any {
		buf := make([]byte, MTUBufSize)
		return &buf
	},
}

// Get returns a buffer of length MTUBufSize, reused from the pool when
// possible.
func Get() *[]byte {
	return pool.Get().(*[]byte)
}

// Put returns buf to the pool for reuse. Callers must not retain buf (or
// slices of it) afterwards.
func Put(buf *[]byte) {
	if buf == nil || cap(*buf) != MTUBufSize {
		return
	}
	*buf = (*buf)[:MTUBufSize]
	pool.Put(buf)
}
