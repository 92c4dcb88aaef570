// Package proto holds the protocol-wide constants shared by the send
// buffer, fragmentation manager, channel and handshake driver, so they
// don't each redeclare the same numbers.
package proto

import (
	"time"

	"github.com/netshard/reliudp/internal/wire"
)

const (
	// RingCapacity (N) is the number of slots in the send buffer's rings.
	RingCapacity = 1024
	// Window (WINDOW) is the trailing lookback distance for dedup/ack-bit
	// lookups. Must be strictly less than RingCapacity.
	Window = wire.Window
	// FragmentSize is the maximum payload size of a single chunk.
	FragmentSize = 1024
	// MaxChunks is the maximum number of chunks a single message may split
	// into.
	MaxChunks = 255
	// MaxMessage is the largest application message this transport will
	// send or reassemble.
	MaxMessage = FragmentSize * MaxChunks

	// SendTimeout bounds how long an unacked sequence is retried before
	// being abandoned by the retransmit walk.
	SendTimeout = 3 * time.Second
	// GroupTimeout bounds how long an incomplete inbound fragment group is
	// kept before being evicted.
	GroupTimeout = 5 * time.Second
	// HandshakeReplyTimeout bounds how long the client waits for a
	// handshake reply before retrying a step.
	HandshakeReplyTimeout = 150 * time.Millisecond
	// HandshakeRetries bounds how many times the client retries each
	// handshake step.
	HandshakeRetries = 5
	// Tick is the cadence driving retransmission and empty-ack emission.
	Tick = 10 * time.Millisecond
)

func init() {
	if Window >= RingCapacity {
		panic("proto: Window must be less than RingCapacity")
	}
}
