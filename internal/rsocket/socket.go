// Package rsocket implements the single-socket readiness-driven event
// loop: a non-blocking UDP socket with an internal outbound queue, driven
// by a pluggable readiness poller so the owning process's Process call can
// be bounded by an absolute deadline (SPEC_FULL.md §4.8).
package rsocket

import (
	"errors"
	"net"
	"time"

	"github.com/netshard/reliudp/internal/bufpool"
	"github.com/netshard/reliudp/internal/wire"
)

// ErrClosed is returned by Enqueue and Process once the socket has been
// closed or its poller has failed.
var ErrClosed = errors.New("reliudp: socket closed")

// EventKind distinguishes the two events Process can emit.
type EventKind int

const (
	// EventSent reports that a previously queued, tracked datagram made
	// it onto the wire.
	EventSent EventKind = iota
	// EventRead reports an inbound datagram (magic already stripped).
	EventRead
)

// Event is either a Sent or a Read notification, emitted by Process.
type Event struct {
	Kind EventKind

	// Addr identifies the peer for both event kinds: the destination a
	// tracked datagram was sent to, or the source an inbound one arrived
	// from. A server multiplexes many peers over one socket, so EventSent
	// must carry this too — Seq alone is only unique within one channel.
	Addr net.Addr

	// EventSent fields.
	Seq uint16

	// EventRead fields.
	Data []byte

	// Now is captured at emit time and used by higher layers as the RTT
	// reference instant.
	Now time.Time
}

type queued struct {
	addr     net.Addr
	bytes    []byte
	seq      uint16
	tracking bool
}

// Poller abstracts the OS readiness-polling primitive so Socket can run
// over epoll on Linux and a watchdog-bounded blocking fallback elsewhere,
// per SPEC_FULL.md §9 ("the contract is the deadline, not the mechanism").
type Poller interface {
	// SetWriteInterest toggles whether the poller also waits for write
	// readiness (it always waits for read readiness).
	SetWriteInterest(want bool) error
	// Wait blocks until the socket is read-ready, write-ready (if
	// interested), or deadline passes. It returns which conditions hold.
	Wait(deadline time.Time) (readReady, writeReady bool, err error)
	Close() error
}

// Socket owns one non-blocking net.PacketConn and the outbound queue that
// feeds it.
type Socket struct {
	conn   net.PacketConn
	poller Poller

	queue []queued // front = next to send

	readBuf *[]byte // pooled, reused across every ReadFrom call
	closed  bool
	lastErr error
}

// New wraps an already-bound, non-blocking-capable PacketConn with a
// poller. Use Bind for the common case of opening a fresh UDP socket.
func New(conn net.PacketConn, poller Poller) *Socket {
	return &Socket{conn: conn, poller: poller, readBuf: bufpool.Get()}
}

// Bind opens a UDP socket at addr (host:port form) and wraps it with the
// platform's default poller.
func Bind(addr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	poller, err := newPoller(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn, poller), nil
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the poller, the pooled read buffer, and the underlying
// socket.
func (s *Socket) Close() error {
	s.closed = true
	bufpool.Put(s.readBuf)
	s.poller.Close()
	return s.conn.Close()
}

// Enqueue appends a framed datagram to the outbound queue. tracking marks
// it as a reliable send whose successful transmission should surface an
// EventSent(seq).
func (s *Socket) Enqueue(addr net.Addr, bytes []byte, tracking bool, seq uint16) error {
	if s.closed {
		return ErrClosed
	}
	s.queue = append(s.queue, queued{addr: addr, bytes: bytes, seq: seq, tracking: tracking})
	return nil
}

// Process drives the loop until deadline, appending up to maxEvents
// events to out and returning the extended slice. It is the reentrant
// entry point the owning process calls on every iteration of its own
// cooperative loop.
func (s *Socket) Process(deadline time.Time, maxEvents int, out []Event) ([]Event, error) {
	if s.closed {
		return out, ErrClosed
	}

	for len(out) < maxEvents {
		wantWrite := len(s.queue) > 0
		if err := s.poller.SetWriteInterest(wantWrite); err != nil {
			s.closed = true
			return out, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return out, nil
		}

		readReady, writeReady, err := s.poller.Wait(deadline)
		if err != nil {
			s.closed = true
			s.lastErr = err
			return out, err
		}
		if !readReady && !writeReady {
			// Deadline elapsed with nothing ready.
			return out, nil
		}

		if writeReady {
			out = s.drainWrites(out, &maxEvents)
		}
		if readReady {
			out = s.drainReads(out, &maxEvents)
		}
	}

	return out, nil
}

func (s *Socket) drainWrites(out []Event, maxEvents *int) []Event {
	for len(s.queue) > 0 && len(out) < *maxEvents {
		item := s.queue[0]
		// The poller only tells us the fd is write-ready; arm a
		// just-expired deadline so a syscall that would actually block
		// (epoll's readiness was stale, e.g. under edge cases on some
		// kernels) surfaces as a timeout instead of hanging the loop.
		s.conn.SetWriteDeadline(time.Now())
		n, err := s.conn.WriteTo(item.bytes, item.addr)
		if err != nil {
			if isWouldBlock(err) {
				// Leave it at the front; wait for the next write
				// readiness instead of busy-looping.
				return out
			}
			// Non-blocking, non-transient error: drop the datagram and
			// keep going rather than wedge the whole queue on one bad
			// destination.
			s.queue = s.queue[1:]
			continue
		}
		_ = n
		s.queue = s.queue[1:]
		if item.tracking {
			out = append(out, Event{Kind: EventSent, Addr: item.addr, Seq: item.seq, Now: time.Now()})
		}
	}
	return out
}

func (s *Socket) drainReads(out []Event, maxEvents *int) []Event {
	for len(out) < *maxEvents {
		s.conn.SetReadDeadline(time.Now())
		n, addr, err := s.conn.ReadFrom(*s.readBuf)
		if err != nil {
			if isWouldBlock(err) {
				return out
			}
			// Treat any other read error as "nothing more pending right
			// now"; a persistently broken socket will surface through
			// Process's own error return on the next poll.
			return out
		}

		now := time.Now()
		if n < 4 {
			continue
		}
		rest, ok := wire.StripMagic((*s.readBuf)[:n])
		if !ok {
			continue
		}
		data := make([]byte, len(rest))
		copy(data, rest)
		out = append(out, Event{Kind: EventRead, Addr: addr, Data: data, Now: now})
	}
	return out
}
