package wire

import (
	"errors"
	"fmt"
)

// PacketType identifies the on-wire frame kind. It occupies a single octet
// immediately following the base header's sequence number.
type PacketType uint8

const (
	ConnectionRequest PacketType = iota + 1
	Challenge
	ChallengeResponse
	ConnectionAccepted
	PayloadReliable
	PayloadReliableFrag
	PayloadUnreliable
	PayloadUnreliableFrag
	Disconnect
)

// IsFragment reports whether t carries a fragment trailer.
func (t PacketType) IsFragment() bool {
	return t == PayloadReliableFrag || t == PayloadUnreliableFrag
}

// IsReliable reports whether t is a reliable payload variant (subject to
// acking, dedup and retransmission).
func (t PacketType) IsReliable() bool {
	return t == PayloadReliable || t == PayloadReliableFrag
}

func (t PacketType) valid() bool {
	return t >= ConnectionRequest && t <= Disconnect
}

func (t PacketType) String() string {
	switch t {
	case ConnectionRequest:
		return "ConnectionRequest"
	case Challenge:
		return "Challenge"
	case ChallengeResponse:
		return "ChallengeResponse"
	case ConnectionAccepted:
		return "ConnectionAccepted"
	case PayloadReliable:
		return "PayloadReliable"
	case PayloadReliableFrag:
		return "PayloadReliableFrag"
	case PayloadUnreliable:
		return "PayloadUnreliable"
	case PayloadUnreliableFrag:
		return "PayloadUnreliableFrag"
	case Disconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// Magic is the fixed 4-byte prefix every wire datagram carries ahead of its
// header. A datagram lacking it is dropped silently before any header
// parsing is attempted.
var Magic = [4]byte{0x01, 0x1B, 0x19, 0x0E}

const (
	// BaseHeaderSize is the size, in bytes, of the header for non-fragment
	// packet types (after the magic prefix).
	BaseHeaderSize = 17
	// FragHeaderSize is the size, in bytes, of the header for fragment
	// packet types (after the magic prefix), i.e. BaseHeaderSize plus the
	// 4-byte fragment trailer.
	FragHeaderSize = 21
)

var (
	ErrMalformedHeader   = errors.New("reliudp: malformed header")
	ErrUnknownPacketType = errors.New("reliudp: unknown packet type")
	ErrBufferTooSmall    = errors.New("reliudp: buffer too small")
)

// Header is the common frame header carried by every post-handshake
// datagram, plus the optional fragment trailer.
type Header struct {
	Seq        uint16
	Type       PacketType
	SessionKey uint64
	Ack        uint16
	AckBits    uint32

	// Only meaningful when Type.IsFragment().
	FragmentGroupID uint16
	FragmentID      uint8
	FragmentSize    uint8
}

// Size returns the on-wire size of h, excluding the magic prefix.
func (h Header) Size() int {
	if h.Type.IsFragment() {
		return FragHeaderSize
	}
	return BaseHeaderSize
}

// ReadHeader parses a Header from buf, which must already have had the
// magic prefix stripped. It fails with ErrMalformedHeader if buf is shorter
// than the header declares or Type isn't a recognized variant; the latter
// error also matches ErrUnknownPacketType.
func ReadHeader(buf []byte) (Header, []byte, error) {
	ib := NewIntBuffer(buf)

	seq, ok := ib.ReadU16()
	if !ok {
		return Header{}, nil, ErrMalformedHeader
	}
	typeByte, ok := ib.ReadU8()
	if !ok {
		return Header{}, nil, ErrMalformedHeader
	}
	t := PacketType(typeByte)
	if !t.valid() {
		return Header{}, nil, fmt.Errorf("%w: %w: %d", ErrMalformedHeader, ErrUnknownPacketType, typeByte)
	}
	sessionKey, ok := ib.ReadU64()
	if !ok {
		return Header{}, nil, ErrMalformedHeader
	}
	ack, ok := ib.ReadU16()
	if !ok {
		return Header{}, nil, ErrMalformedHeader
	}
	ackBits, ok := ib.ReadU32()
	if !ok {
		return Header{}, nil, ErrMalformedHeader
	}

	h := Header{Seq: seq, Type: t, SessionKey: sessionKey, Ack: ack, AckBits: ackBits}

	if t.IsFragment() {
		groupID, ok := ib.ReadU16()
		if !ok {
			return Header{}, nil, ErrMalformedHeader
		}
		fragID, ok := ib.ReadU8()
		if !ok {
			return Header{}, nil, ErrMalformedHeader
		}
		fragSize, ok := ib.ReadU8()
		if !ok {
			return Header{}, nil, ErrMalformedHeader
		}
		h.FragmentGroupID = groupID
		h.FragmentID = fragID
		h.FragmentSize = fragSize
	}

	return h, ib.ReadRest(), nil
}

// WriteHeader appends h's on-wire encoding (magic included) followed by
// payload to ib.
func WriteHeader(ib *IntBuffer, h Header, payload []byte) error {
	if !h.Type.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownPacketType, h.Type)
	}
	ib.WriteBytes(Magic[:])
	ib.WriteU16(h.Seq)
	ib.WriteU8(uint8(h.Type))
	ib.WriteU64(h.SessionKey)
	ib.WriteU16(h.Ack)
	ib.WriteU32(h.AckBits)
	if h.Type.IsFragment() {
		ib.WriteU16(h.FragmentGroupID)
		ib.WriteU8(h.FragmentID)
		ib.WriteU8(h.FragmentSize)
	}
	ib.WriteBytes(payload)
	return nil
}

// EncodeHeader is a convenience wrapper returning a freshly allocated frame.
func EncodeHeader(h Header, payload []byte) []byte {
	ib := NewIntBufferWithCapacity(4 + h.Size() + len(payload))
	// WriteHeader only fails for an invalid Type, which callers construct
	// from the typed constants above and therefore never hit.
	_ = WriteHeader(ib, h, payload)
	return ib.Bytes()
}

// StripMagic verifies and removes the 4-byte magic prefix from buf. It
// returns ok=false (no error) if the magic doesn't match or buf is too
// short, signaling the datagram should be dropped silently.
func StripMagic(buf []byte) (rest []byte, ok bool) {
	if len(buf) < len(Magic) {
		return nil, false
	}
	for i, b := range Magic {
		if buf[i] != b {
			return nil, false
		}
	}
	return buf[len(Magic):], true
}
