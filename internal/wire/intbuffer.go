package wire

import "encoding/binary"

// IntBuffer is a little-endian read/write cursor over a byte slice, used to
// build and parse wire frames without repeated slice re-allocation.
type IntBuffer struct {
	data   []byte
	cursor int
}

// NewIntBuffer wraps an existing slice for reading.
func NewIntBuffer(data []byte) *IntBuffer {
	return &IntBuffer{data: data}
}

// NewIntBufferWithCapacity allocates an empty buffer for writing.
func NewIntBufferWithCapacity(capacity int) *IntBuffer {
	return &IntBuffer{data: make([]byte, 0, capacity)}
}

// Bytes returns the buffer's underlying data.
func (b *IntBuffer) Bytes() []byte {
	return b.data
}

// Remaining returns the number of unread bytes.
func (b *IntBuffer) Remaining() int {
	return len(b.data) - b.cursor
}

func (b *IntBuffer) ReadU8() (uint8, bool) {
	if b.Remaining() < 1 {
		return 0, false
	}
	v := b.data[b.cursor]
	b.cursor++
	return v, true
}

func (b *IntBuffer) ReadU16() (uint16, bool) {
	if b.Remaining() < 2 {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(b.data[b.cursor:])
	b.cursor += 2
	return v, true
}

func (b *IntBuffer) ReadU32() (uint32, bool) {
	if b.Remaining() < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(b.data[b.cursor:])
	b.cursor += 4
	return v, true
}

func (b *IntBuffer) ReadU64() (uint64, bool) {
	if b.Remaining() < 8 {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(b.data[b.cursor:])
	b.cursor += 8
	return v, true
}

// ReadBytes returns the next n bytes as a sub-slice (no copy).
func (b *IntBuffer) ReadBytes(n int) ([]byte, bool) {
	if b.Remaining() < n {
		return nil, false
	}
	v := b.data[b.cursor : b.cursor+n]
	b.cursor += n
	return v, true
}

// ReadRest returns every remaining byte (no copy).
func (b *IntBuffer) ReadRest() []byte {
	v := b.data[b.cursor:]
	b.cursor = len(b.data)
	return v
}

func (b *IntBuffer) WriteU8(v uint8) {
	b.data = append(b.data, v)
}

func (b *IntBuffer) WriteU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *IntBuffer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *IntBuffer) WriteU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *IntBuffer) WriteBytes(v []byte) {
	b.data = append(b.data, v...)
}
