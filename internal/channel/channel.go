// Package channel implements the per-peer protocol engine: it frames
// outbound application payloads, validates and reassembles inbound ones,
// and drives the send buffer's retransmission. It performs no I/O itself —
// it's driven by a socket loop that feeds it inbound bytes and drains its
// outbound events.
package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/netshard/reliudp/internal/frag"
	"github.com/netshard/reliudp/internal/proto"
	"github.com/netshard/reliudp/internal/rtt"
	"github.com/netshard/reliudp/internal/sendbuf"
	"github.com/netshard/reliudp/internal/wire"
)

// Mode tags which side of the handshake a channel plays.
type Mode int

const (
	ModeClient Mode = iota
	ModeServer
)

var (
	// ErrSessionKeyMismatch is returned (not surfaced as a disconnect) for
	// an inbound datagram whose session key doesn't match the channel's —
	// it is dropped and the channel is left untouched.
	ErrSessionKeyMismatch = errors.New("reliudp: session key mismatch")
	// ErrPacketTooLarge is returned by SendReliable/SendUnreliable when
	// payload exceeds proto.MaxMessage.
	ErrPacketTooLarge = errors.New("reliudp: packet too large")
)

// Outbound is one fully framed datagram the channel wants sent, along with
// whether the socket loop should report back a Sent event for it (reliable
// payloads and retransmits are tracked; unreliable sends and handshake
// chatter are not channel concerns).
type Outbound struct {
	Seq      uint16
	Tracking bool
	Bytes    []byte
}

// Inbound is what HandleInbound surfaces to the caller for a successfully
// processed payload datagram.
type Inbound struct {
	// Disconnect is true if the peer sent a Disconnect packet; Parts is
	// empty in that case.
	Disconnect bool
	// Parts holds the delivered message's chunks in fragment order (a
	// single element for non-fragmented payloads). Empty with
	// Disconnect==false means nothing to deliver (e.g. a duplicate or a
	// fragment that isn't complete yet).
	Parts [][]byte
}

// Channel is the per-peer reliability engine.
type Channel struct {
	mode       Mode
	sessionKey uint64

	unreliableSeq uint16
	localSeq      uint16
	remoteSeq     uint16
	haveRemote    bool
	sendAck       bool
	dead          bool

	rttTracker *rtt.Tracker
	sendBuf    *sendbuf.SendBuffer
	seen       *wire.WindowRing

	reliableFrag   *frag.Manager
	unreliableFrag *frag.Manager
}

// New returns a fresh channel for a session identified by sessionKey.
func New(mode Mode, sessionKey uint64) *Channel {
	tracker := rtt.New()
	return &Channel{
		mode:           mode,
		sessionKey:     sessionKey,
		rttTracker:     tracker,
		sendBuf:        sendbuf.New(tracker),
		seen:           wire.NewWindowRing(proto.RingCapacity),
		reliableFrag:   frag.New(),
		unreliableFrag: frag.New(),
	}
}

// SessionKey returns the channel's session key.
func (c *Channel) SessionKey() uint64 { return c.sessionKey }

// RTT returns the channel's RTT tracker, for diagnostics.
func (c *Channel) RTT() *rtt.Tracker { return c.rttTracker }

// MarkSent records that a tracked reliable datagram actually made it onto
// the wire at t, called by the socket loop once a previously queued send
// completes.
func (c *Channel) MarkSent(seq uint16, t time.Time) {
	c.sendBuf.MarkSent(seq, t)
}

// SetClock overrides the channel's time source and that of every
// sub-component it owns; intended for tests that need to exercise
// SendTimeout/GroupTimeout without sleeping.
func (c *Channel) SetClock(now func() time.Time) {
	c.sendBuf.SetClock(now)
	c.reliableFrag.SetClock(now)
	c.unreliableFrag.SetClock(now)
}

// Dead reports whether this channel's retransmit walk has found a reliable
// sequence that exceeded SendTimeout: sustained loss the owning process
// should surface as ConnectionLost and tear the channel down for.
func (c *Channel) Dead() bool { return c.dead }

func (c *Channel) ackBits() uint32 {
	if !c.haveRemote {
		return 0
	}
	var bits uint32
	for i := 0; i < 32; i++ {
		seq := c.remoteSeq - uint16(i) - 1
		if c.seen.Contains(seq) {
			bits |= 1 << uint(i)
		}
	}
	return bits
}

func (c *Channel) baseHeader(t wire.PacketType, seq uint16) wire.Header {
	return wire.Header{
		Seq:        seq,
		Type:       t,
		SessionKey: c.sessionKey,
		Ack:        c.remoteSeq,
		AckBits:    c.ackBits(),
	}
}

// SendReliable frames payload as one or more PayloadReliable(Frag)
// datagrams, pushing each into the send buffer for retransmission.
func (c *Channel) SendReliable(payload []byte) ([]Outbound, error) {
	if len(payload) > proto.MaxMessage {
		return nil, ErrPacketTooLarge
	}

	c.sendAck = false

	if len(payload) <= proto.FragmentSize {
		seq := c.localSeq
		c.localSeq = wire.SeqIncrement(c.localSeq)

		h := c.baseHeader(wire.PayloadReliable, seq)
		bytes := wire.EncodeHeader(h, payload)
		c.sendBuf.Push(seq, h, payload)
		return []Outbound{{Seq: seq, Tracking: true, Bytes: bytes}}, nil
	}

	groupID, chunks, err := c.reliableFrag.Split(payload)
	if err != nil {
		return nil, err
	}

	out := make([]Outbound, 0, len(chunks))
	for _, chunk := range chunks {
		seq := c.localSeq
		c.localSeq = wire.SeqIncrement(c.localSeq)

		h := c.baseHeader(wire.PayloadReliableFrag, seq)
		h.FragmentGroupID = groupID
		h.FragmentID = chunk.FragmentID
		h.FragmentSize = uint8(len(chunks))

		bytes := wire.EncodeHeader(h, chunk.Payload)
		c.sendBuf.Push(seq, h, chunk.Payload)
		out = append(out, Outbound{Seq: seq, Tracking: true, Bytes: bytes})
	}
	return out, nil
}

// SendUnreliable frames payload as one or more PayloadUnreliable(Frag)
// datagrams. Unreliable sends are never pushed to the send buffer and are
// never tracked for Sent events.
func (c *Channel) SendUnreliable(payload []byte) ([]Outbound, error) {
	if len(payload) > proto.MaxMessage {
		return nil, ErrPacketTooLarge
	}

	c.sendAck = false

	if len(payload) <= proto.FragmentSize {
		seq := c.unreliableSeq
		c.unreliableSeq = wire.SeqIncrement(c.unreliableSeq)

		h := c.baseHeader(wire.PayloadUnreliable, seq)
		bytes := wire.EncodeHeader(h, payload)
		return []Outbound{{Seq: seq, Tracking: false, Bytes: bytes}}, nil
	}

	groupID, chunks, err := c.unreliableFrag.Split(payload)
	if err != nil {
		return nil, err
	}

	out := make([]Outbound, 0, len(chunks))
	for _, chunk := range chunks {
		seq := c.unreliableSeq
		c.unreliableSeq = wire.SeqIncrement(c.unreliableSeq)

		h := c.baseHeader(wire.PayloadUnreliableFrag, seq)
		h.FragmentGroupID = groupID
		h.FragmentID = chunk.FragmentID
		h.FragmentSize = uint8(len(chunks))

		bytes := wire.EncodeHeader(h, chunk.Payload)
		out = append(out, Outbound{Seq: seq, Tracking: false, Bytes: bytes})
	}
	return out, nil
}

// HandleInbound processes one already-parsed, magic-stripped datagram.
func (c *Channel) HandleInbound(h wire.Header, payload []byte, now time.Time) (Inbound, error) {
	if h.SessionKey != c.sessionKey {
		return Inbound{}, ErrSessionKeyMismatch
	}

	if h.Type == wire.Disconnect {
		return Inbound{Disconnect: true}, nil
	}

	if h.Type.IsReliable() {
		return c.handleReliable(h, payload, now)
	}
	return c.handleUnreliable(h, payload, now)
}

func (c *Channel) handleReliable(h wire.Header, payload []byte, now time.Time) (Inbound, error) {
	c.sendAck = true
	c.sendBuf.MarkAcked(h.Ack, h.AckBits, now)

	isNew := false
	if !c.haveRemote || wire.SeqLess(c.remoteSeq, h.Seq) {
		c.remoteSeq = h.Seq
		c.haveRemote = true
		isNew = true
	} else if !c.seen.Contains(h.Seq) {
		isNew = true
	}

	if !isNew {
		return Inbound{}, nil
	}
	c.seen.Insert(h.Seq)

	if !h.Type.IsFragment() {
		return Inbound{Parts: [][]byte{payload}}, nil
	}

	complete, err := c.reliableFrag.Insert(h, payload)
	if err != nil {
		return Inbound{}, err
	}
	if !complete {
		return Inbound{}, nil
	}
	parts, err := c.reliableFrag.Assemble(h.FragmentGroupID)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Parts: parts}, nil
}

func (c *Channel) handleUnreliable(h wire.Header, payload []byte, now time.Time) (Inbound, error) {
	c.sendBuf.MarkAcked(h.Ack, h.AckBits, now)

	if !h.Type.IsFragment() {
		return Inbound{Parts: [][]byte{payload}}, nil
	}

	complete, err := c.unreliableFrag.Insert(h, payload)
	if err != nil {
		return Inbound{}, err
	}
	if !complete {
		return Inbound{}, nil
	}
	parts, err := c.unreliableFrag.Assemble(h.FragmentGroupID)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Parts: parts}, nil
}

// Tick drives time-based work: retransmission of overdue reliable sends,
// an empty ack datagram when one is pending with nothing to carry it, and
// eviction of expired inbound fragment groups. It also marks the channel
// Dead once a reliable sequence's retransmit walk finds it has exceeded
// SendTimeout — sustained loss the owning process should surface as
// ConnectionLost rather than keep retrying forever.
func (c *Channel) Tick(now time.Time) []Outbound {
	c.reliableFrag.EvictExpired()
	c.unreliableFrag.EvictExpired()

	var out []Outbound

	retransmits, timedOut := c.sendBuf.CollectRetransmits(c.localSeq, nil)
	if timedOut {
		c.dead = true
	}
	for _, entry := range retransmits {
		h := entry.Header
		h.Ack = c.remoteSeq
		h.AckBits = c.ackBits()
		bytes := wire.EncodeHeader(h, entry.Payload)
		out = append(out, Outbound{Seq: entry.Seq, Tracking: true, Bytes: bytes})
	}

	if c.sendAck {
		c.sendAck = false
		seq := c.unreliableSeq
		c.unreliableSeq = wire.SeqIncrement(c.unreliableSeq)
		h := c.baseHeader(wire.PayloadUnreliable, seq)
		out = append(out, Outbound{Seq: seq, Tracking: false, Bytes: wire.EncodeHeader(h, nil)})
	}

	return out
}

// Disconnect produces the three rapid-succession Disconnect datagrams that
// close out a connection without retransmission.
func (c *Channel) Disconnect() []Outbound {
	out := make([]Outbound, 0, 3)
	for i := 0; i < 3; i++ {
		h := wire.Header{Type: wire.Disconnect, SessionKey: c.sessionKey, Ack: c.remoteSeq, AckBits: c.ackBits()}
		out = append(out, Outbound{Tracking: false, Bytes: wire.EncodeHeader(h, nil)})
	}
	return out
}

// String aids debugging/log output.
func (c *Channel) String() string {
	return fmt.Sprintf("channel{mode=%v key=%x local=%d remote=%d}", c.mode, c.sessionKey, c.localSeq, c.remoteSeq)
}
