package rsocket

import "net"

// isWouldBlock reports whether err represents a transient "nothing ready
// right now" condition rather than a real socket failure: either the
// short per-call deadline we arm before each syscall expired, or the
// kernel itself returned EAGAIN.
func isWouldBlock(err error) bool {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
		return true
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}
