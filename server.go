// Package reliudp is the application-facing surface: Server and Client own
// the socket, the connection/channel state, and the send/event queues that
// hand payloads and lifecycle notifications across the thread boundary to
// the caller. Everything under internal/ is the protocol engine this
// package drives; it performs no framing or sequencing itself.
package reliudp

import (
	"context"
	"net"
	"time"

	"github.com/netshard/reliudp/internal/channel"
	"github.com/netshard/reliudp/internal/connmgr"
	"github.com/netshard/reliudp/internal/equeue"
	"github.com/netshard/reliudp/internal/procrun"
	"github.com/netshard/reliudp/internal/proto"
	"github.com/netshard/reliudp/internal/rsocket"
	"github.com/netshard/reliudp/internal/wire"
)

type serverSend struct {
	connID   uint32
	data     []byte
	sendType SendType
}

type serverMsg struct {
	kind   ServerEventKind
	connID uint32
	data   []byte
}

// Server accepts and multiplexes up to its configured capacity of client
// connections over one UDP socket.
type Server struct {
	socket *rsocket.Socket
	conns  *connmgr.Manager
	opts   options

	events *equeue.Queue[serverMsg]
	sendq  *equeue.Queue[serverSend]
	proc   *procrun.Group
}

// StartServer binds addr and begins accepting up to maxClients simultaneous
// connections. The returned Server's loop runs on its own goroutine until
// Stop is called or the socket fails.
func StartServer(addr string, maxClients int, opts ...Option) (*Server, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	sock, err := rsocket.Bind(addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		socket: sock,
		conns:  connmgr.New(maxClients, o.rand),
		opts:   o,
		events: equeue.New[serverMsg](),
		sendq:  equeue.New[serverSend](),
		proc:   procrun.New(),
	}

	s.proc.Go(s.loop)
	o.logger.Success("server listening on %s (capacity %d)", sock.LocalAddr(), maxClients)
	return s, nil
}

// LocalAddr returns the bound local address.
func (s *Server) LocalAddr() net.Addr { return s.socket.LocalAddr() }

// Send enqueues data for delivery to the connection identified by id under
// the given SendType. It returns ErrNotConnected if id isn't an active
// connection at enqueue time (the connection may still disconnect before
// delivery completes, which the caller observes as ConnectionLost).
func (s *Server) Send(id uint32, data []byte, t SendType) error {
	if len(data) > proto.MaxMessage {
		return ErrPacketTooLarge
	}
	select {
	case <-s.proc.Done():
		return ErrSendQueueClosed
	default:
	}
	if _, _, ok := s.conns.GetByConnID(id); !ok {
		return ErrNotConnected
	}
	s.sendq.Push(serverSend{connID: id, data: data, sendType: t})
	return nil
}

// Read blocks up to timeout for the next lifecycle or data event. ok is
// false on timeout. For Receive events, up to len(dest) bytes of the
// delivered message are copied into dest and N reports how many; if the
// message doesn't fit, err is ErrDestinationTooSmall and the message is
// dropped rather than requeued.
func (s *Server) Read(dest []byte, timeout time.Duration) (ev ServerEvent, ok bool, err error) {
	msg, ok := s.events.PopTimeout(timeout)
	if !ok {
		return ServerEvent{}, false, nil
	}
	ev = ServerEvent{Kind: msg.kind, ConnID: msg.connID}
	if msg.kind == Receive {
		if len(msg.data) > len(dest) {
			return ServerEvent{}, true, ErrDestinationTooSmall
		}
		ev.N = copy(dest, msg.data)
	}
	return ev, true, nil
}

// Stop halts the server's loop, closes the socket, and releases the event
// and send queues. It blocks until the loop goroutine has exited.
func (s *Server) Stop() error {
	s.proc.Stop()
	err := s.proc.Wait()
	s.socket.Close()
	s.events.Close()
	s.sendq.Close()
	return err
}

func (s *Server) loop(ctx context.Context) error {
	eventsBuf := make([]rsocket.Event, 0, s.opts.maxEvents)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		deadline := time.Now().Add(proto.Tick)
		eventsBuf = eventsBuf[:0]
		var err error
		eventsBuf, err = s.socket.Process(deadline, s.opts.maxEvents, eventsBuf)
		if err != nil {
			s.opts.logger.Error("server socket closed: %v", err)
			return err
		}
		for _, ev := range eventsBuf {
			s.handleSocketEvent(ev)
		}

		for {
			req, ok := s.sendq.TryPop()
			if !ok {
				break
			}
			s.handleSend(req)
		}

		lost := s.conns.Update(time.Now(), func(addr net.Addr, out []channel.Outbound) {
			for _, o := range out {
				s.socket.Enqueue(addr, o.Bytes, o.Tracking, o.Seq)
			}
		})
		for _, connID := range lost {
			s.opts.logger.Warn("connection %d lost: sustained retransmit failure", connID)
			s.events.Push(serverMsg{kind: ConnectionLost, connID: connID})
		}
	}
}

func (s *Server) handleSend(req serverSend) {
	ch, id, ok := s.conns.GetByConnID(req.connID)
	if !ok {
		return
	}
	var out []channel.Outbound
	var err error
	if req.sendType == Reliable {
		out, err = ch.SendReliable(req.data)
	} else {
		out, err = ch.SendUnreliable(req.data)
	}
	if err != nil {
		s.opts.logger.Warn("send to connection %d failed: %v", req.connID, err)
		return
	}
	for _, o := range out {
		s.socket.Enqueue(id.Addr, o.Bytes, o.Tracking, o.Seq)
	}
}

func (s *Server) handleSocketEvent(ev rsocket.Event) {
	switch ev.Kind {
	case rsocket.EventSent:
		if ch, _, ok := s.conns.Get(ev.Addr); ok {
			ch.MarkSent(ev.Seq, ev.Now)
		}
	case rsocket.EventRead:
		s.handleRead(ev.Addr, ev.Data, ev.Now)
	}
}

func (s *Server) handleRead(addr net.Addr, data []byte, now time.Time) {
	if ch, id, ok := s.conns.Get(addr); ok {
		s.handleChannelRead(ch, id, data, now)
		return
	}
	s.handleHandshakeRead(addr, data)
}

func (s *Server) handleChannelRead(ch *channel.Channel, id connmgr.Identity, data []byte, now time.Time) {
	h, payload, err := wire.ReadHeader(data)
	if err != nil {
		s.opts.logger.Warn("malformed datagram from %s: %v", id.Addr, err)
		return
	}

	in, err := ch.HandleInbound(h, payload, now)
	if err != nil {
		s.opts.logger.Warn("dropping datagram from connection %d: %v", id.ConnectionID, err)
		return
	}
	if in.Disconnect {
		if connID, ok := s.conns.Disconnect(id.Addr); ok {
			s.events.Push(serverMsg{kind: ConnectionLost, connID: connID})
		}
		return
	}
	if len(in.Parts) == 0 {
		return
	}
	s.events.Push(serverMsg{kind: Receive, connID: id.ConnectionID, data: joinParts(in.Parts)})
}

func (s *Server) handleHandshakeRead(addr net.Addr, data []byte) {
	if len(data) < 1 {
		return
	}
	t := wire.PacketType(data[0])
	body := wire.NewIntBuffer(data[1:])

	switch t {
	case wire.ConnectionRequest:
		clientSalt, ok := body.ReadU64()
		if !ok {
			return
		}
		_, out := s.conns.ProcessConnectionRequest(addr, clientSalt)
		if out != nil {
			s.socket.Enqueue(addr, out, false, 0)
		}
	case wire.ChallengeResponse:
		echoed, ok := body.ReadU64()
		if !ok {
			return
		}
		result, connID, _, out := s.conns.ProcessChallengeResponse(addr, echoed)
		if out != nil {
			s.socket.Enqueue(addr, out, false, 0)
		}
		if result == connmgr.Connected {
			s.events.Push(serverMsg{kind: NewConnection, connID: connID})
		}
	default:
		// Stray packet for an address with no pending or installed
		// state (retransmitted Challenge/Accepted duplicate, payload
		// from an already-expired connection); nothing to do.
	}
}

func joinParts(parts [][]byte) []byte {
	if len(parts) == 1 {
		return parts[0]
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
