//go:build !linux

package rsocket

import (
	"net"
	"time"
)

// watchdogPoller is the portable fallback described in SPEC_FULL.md §9:
// platforms without a readiness-polling primitive approximate Process's
// deadline contract with a short blocking-receive-with-deadline spin
// instead of a real epoll/kqueue wait. Read readiness is assumed always
// possible (a short deadline read either returns data or times out almost
// immediately); write readiness is assumed whenever the queue is
// non-empty, since UDP sends essentially never block.
type watchdogPoller struct {
	wantWrite bool
}

func newPoller(conn *net.UDPConn) (Poller, error) {
	return &watchdogPoller{}, nil
}

func (p *watchdogPoller) SetWriteInterest(want bool) error {
	p.wantWrite = want
	return nil
}

const pollInterval = 5 * time.Millisecond

func (p *watchdogPoller) Wait(deadline time.Time) (readReady, writeReady bool, err error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false, false, nil
	}
	if remaining > pollInterval {
		remaining = pollInterval
	}
	time.Sleep(remaining)
	return true, p.wantWrite, nil
}

func (p *watchdogPoller) Close() error {
	return nil
}
