package reliudp

import (
	"context"
	"net"
	"time"

	"github.com/netshard/reliudp/internal/channel"
	"github.com/netshard/reliudp/internal/equeue"
	"github.com/netshard/reliudp/internal/handshake"
	"github.com/netshard/reliudp/internal/procrun"
	"github.com/netshard/reliudp/internal/proto"
	"github.com/netshard/reliudp/internal/rsocket"
	"github.com/netshard/reliudp/internal/wire"
)

type clientSend struct {
	data     []byte
	sendType SendType
}

type clientMsg struct {
	kind ClientEventKind
	data []byte
}

// Client drives a single connection attempt and, once accepted, a single
// established channel to one remote peer.
type Client struct {
	socket *rsocket.Socket
	remote net.Addr
	opts   options

	driver  *handshake.Driver
	channel *channel.Channel
	connID  uint32

	lostReported bool

	events *equeue.Queue[clientMsg]
	sendq  *equeue.Queue[clientSend]
	proc   *procrun.Group
	ready  chan error
}

// Connect performs the handshake against remote from a socket bound at
// local, blocking until ConnectionAccepted arrives or the handshake's retry
// budget is exhausted.
func Connect(local, remote string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	sock, err := rsocket.Bind(local)
	if err != nil {
		return nil, err
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		sock.Close()
		return nil, err
	}

	c := &Client{
		socket: sock,
		remote: remoteAddr,
		opts:   o,
		driver: handshake.New(o.rand),
		events: equeue.New[clientMsg](),
		sendq:  equeue.New[clientSend](),
		proc:   procrun.New(),
		ready:  make(chan error, 1),
	}

	c.proc.Go(c.loop)

	if err := <-c.ready; err != nil {
		c.proc.Stop()
		c.proc.Wait()
		sock.Close()
		return nil, err
	}
	o.logger.Success("connected to %s as connection %d", c.remote, c.connID)
	return c, nil
}

// ConnID returns the connection id the server assigned during the
// handshake.
func (c *Client) ConnID() uint32 { return c.connID }

// Send enqueues data for delivery to the server under the given SendType.
func (c *Client) Send(data []byte, t SendType) error {
	if len(data) > proto.MaxMessage {
		return ErrPacketTooLarge
	}
	select {
	case <-c.proc.Done():
		return ErrSendQueueClosed
	default:
	}
	c.sendq.Push(clientSend{data: data, sendType: t})
	return nil
}

// Read blocks up to timeout for the next lifecycle or data event, with the
// same dest-buffer semantics as Server.Read.
func (c *Client) Read(dest []byte, timeout time.Duration) (ev ClientEvent, ok bool, err error) {
	msg, ok := c.events.PopTimeout(timeout)
	if !ok {
		return ClientEvent{}, false, nil
	}
	ev = ClientEvent{Kind: msg.kind}
	if msg.kind == ClientReceive {
		if len(msg.data) > len(dest) {
			return ClientEvent{}, true, ErrDestinationTooSmall
		}
		ev.N = copy(dest, msg.data)
	}
	return ev, true, nil
}

// Disconnect emits the three rapid Disconnect datagrams and tears down the
// client's loop and socket.
func (c *Client) Disconnect() error {
	if c.channel != nil {
		for _, o := range c.channel.Disconnect() {
			c.socket.Enqueue(c.remote, o.Bytes, o.Tracking, o.Seq)
		}
		// Give the loop one more pass to actually drain the queued
		// Disconnect datagrams onto the wire before the socket closes.
		time.Sleep(proto.Tick)
	}
	c.proc.Stop()
	err := c.proc.Wait()
	c.socket.Close()
	c.events.Close()
	c.sendq.Close()
	return err
}

func (c *Client) loop(ctx context.Context) error {
	eventsBuf := make([]rsocket.Event, 0, c.opts.maxEvents)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		deadline := time.Now().Add(proto.Tick)
		eventsBuf = eventsBuf[:0]
		var err error
		eventsBuf, err = c.socket.Process(deadline, c.opts.maxEvents, eventsBuf)
		if err != nil {
			c.opts.logger.Error("client socket closed: %v", err)
			select {
			case c.ready <- err:
			default:
			}
			return err
		}
		for _, ev := range eventsBuf {
			c.handleSocketEvent(ev)
		}

		if c.channel == nil {
			if c.driveHandshake(time.Now()) {
				return nil
			}
			continue
		}

		for {
			req, ok := c.sendq.TryPop()
			if !ok {
				break
			}
			c.handleSend(req)
		}
		if out := c.channel.Tick(time.Now()); len(out) > 0 {
			for _, o := range out {
				c.socket.Enqueue(c.remote, o.Bytes, o.Tracking, o.Seq)
			}
		}
		// Sustained retransmit failure (per SPEC_FULL.md's Lifecycles
		// section): surface ConnectionLost once, the same as an explicit
		// Disconnect packet would, rather than retry forever.
		if c.channel.Dead() && !c.lostReported {
			c.lostReported = true
			c.opts.logger.Warn("connection lost: sustained retransmit failure")
			c.events.Push(clientMsg{kind: ClientConnectionLost})
		}
	}
}

// driveHandshake polls the handshake driver for its next retry datagram and
// reports whether the handshake has terminally failed (the loop should stop
// in that case; ready has already been signaled).
func (c *Client) driveHandshake(now time.Time) bool {
	if bytes := c.driver.Poll(now); bytes != nil {
		c.socket.Enqueue(c.remote, bytes, false, 0)
	}
	if c.driver.Stage() == handshake.StageFailed {
		select {
		case c.ready <- toAPIHandshakeError(c.driver.Err()):
		default:
		}
		return true
	}
	return false
}

func toAPIHandshakeError(err error) error {
	switch err {
	case handshake.ErrTimeout:
		return ErrHandshakeTimeout
	case handshake.ErrRejected:
		return ErrHandshakeRejected
	default:
		return err
	}
}

func (c *Client) handleSend(req clientSend) {
	var out []channel.Outbound
	var err error
	if req.sendType == Reliable {
		out, err = c.channel.SendReliable(req.data)
	} else {
		out, err = c.channel.SendUnreliable(req.data)
	}
	if err != nil {
		c.opts.logger.Warn("send failed: %v", err)
		return
	}
	for _, o := range out {
		c.socket.Enqueue(c.remote, o.Bytes, o.Tracking, o.Seq)
	}
}

func (c *Client) handleSocketEvent(ev rsocket.Event) {
	switch ev.Kind {
	case rsocket.EventSent:
		if c.channel != nil {
			c.channel.MarkSent(ev.Seq, ev.Now)
		}
	case rsocket.EventRead:
		c.handleRead(ev.Data, ev.Now)
	}
}

func (c *Client) handleRead(data []byte, now time.Time) {
	if c.channel != nil {
		h, payload, err := wire.ReadHeader(data)
		if err != nil {
			c.opts.logger.Warn("malformed datagram from %s: %v", c.remote, err)
			return
		}
		in, err := c.channel.HandleInbound(h, payload, now)
		if err != nil {
			c.opts.logger.Warn("dropping datagram: %v", err)
			return
		}
		if in.Disconnect {
			c.events.Push(clientMsg{kind: ClientConnectionLost})
			return
		}
		if len(in.Parts) == 0 {
			return
		}
		c.events.Push(clientMsg{kind: ClientReceive, data: joinParts(in.Parts)})
		return
	}

	if len(data) < 1 {
		return
	}
	t := wire.PacketType(data[0])
	body := wire.NewIntBuffer(data[1:])

	switch t {
	case wire.Challenge:
		echoedSalt, ok := body.ReadU64()
		if !ok {
			return
		}
		serverSalt, ok := body.ReadU64()
		if !ok {
			return
		}
		c.driver.HandleChallenge(echoedSalt, serverSalt)
	case wire.ConnectionAccepted:
		connID, ok := body.ReadU32()
		if !ok {
			return
		}
		c.driver.HandleAccepted(connID)
		if c.driver.Stage() == handshake.StageAccepted {
			c.channel = c.driver.Channel()
			c.connID = connID
			select {
			case c.ready <- nil:
			default:
			}
		}
	}
}
