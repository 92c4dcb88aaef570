//go:build linux

package rsocket

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller drives the socket's interest set via a dedicated epoll
// instance, grounded on the epoll-based readiness patterns used
// throughout the retrieval pack's uring/epoll transports (manifests for
// ehrlich-b-go-ublk, sofiworker-gk, momentics-hioload-ws). It always
// watches for read readiness and toggles write readiness on and off as
// the outbound queue fills and drains, exactly as SPEC_FULL.md §4.8
// specifies.
type epollPoller struct {
	epfd      int
	fd        int
	wantWrite bool
}

func newPoller(conn *net.UDPConn) (Poller, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	var fd int
	var ctlErr error
	err = rawConn.Control(func(sysfd uintptr) {
		fd = int(sysfd)
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		ctlErr = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	})
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	if ctlErr != nil {
		unix.Close(epfd)
		return nil, ctlErr
	}

	return &epollPoller{epfd: epfd, fd: fd}, nil
}

func (p *epollPoller) SetWriteInterest(want bool) error {
	if want == p.wantWrite {
		return nil
	}
	events := uint32(unix.EPOLLIN)
	if want {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(p.fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, p.fd, &ev); err != nil {
		return err
	}
	p.wantWrite = want
	return nil
}

func (p *epollPoller) Wait(deadline time.Time) (readReady, writeReady bool, err error) {
	timeoutMS := int(time.Until(deadline) / time.Millisecond)
	if timeoutMS < 0 {
		timeoutMS = 0
	}

	var events [4]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, events[:], timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return false, false, nil
		}
		return false, false, err
	}

	for i := 0; i < n; i++ {
		if events[i].Events&unix.EPOLLIN != 0 {
			readReady = true
		}
		if events[i].Events&unix.EPOLLOUT != 0 {
			writeReady = true
		}
	}
	return readReady, writeReady, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
