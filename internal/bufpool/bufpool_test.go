package bufpool

import "testing"

func TestGetReturnsCorrectSize(t *testing.T) {
	buf := Get()
	if len(*buf) != MTUBufSize {
		t.Errorf("len(*buf) = %d, want %d", len(*buf), MTUBufSize)
	}
	Put(buf)
}

func TestPutIgnoresWrongCapacity(t *testing.T) {
	wrong := make([]byte, 4)
	Put(&wrong) // must not panic or corrupt the pool
	buf := Get()
	if len(*buf) != MTUBufSize {
		t.Errorf("len(*buf) = %d, want %d", len(*buf), MTUBufSize)
	}
}
