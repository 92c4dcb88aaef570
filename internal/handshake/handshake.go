// Package handshake implements the client side of the anti-spoof salt
// handshake: send ConnectionRequest, wait for Challenge, echo the XORed
// salts back as ChallengeResponse, wait for ConnectionAccepted. It is driven
// by repeated calls to Poll from the client's own tick loop rather than
// blocking, so the same readiness-driven socket loop that drives an
// established channel can also drive a connection attempt in progress.
package handshake

import (
	"errors"
	"time"

	"github.com/netshard/reliudp/internal/channel"
	"github.com/netshard/reliudp/internal/proto"
	"github.com/netshard/reliudp/internal/wire"
)

// RandSource is the external random-number collaborator behind client salt
// generation.
type RandSource interface {
	Uint64() uint64
}

// Stage names where in the handshake a Driver sits.
type Stage int

const (
	StageRequesting Stage = iota
	StageChallenged
	StageAccepted
	StageFailed
)

var (
	// ErrTimeout is the Driver's terminal state when HandshakeRetries outer
	// attempts, each of up to HandshakeRetries sends, all go unanswered.
	ErrTimeout = errors.New("reliudp: handshake timed out")
	// ErrRejected is the Driver's terminal state when a Challenge echoes a
	// client_salt other than the one this driver sent.
	ErrRejected = errors.New("reliudp: handshake rejected")
)

// Driver runs one client connection attempt to completion (or failure).
//
// Retries are two levels deep: an inner HandshakeRetries-bounded send/wait
// loop for whichever phase (request or response) is outstanding, nested
// inside an outer HandshakeRetries-bounded loop that, each time the inner
// budget is spent without a reply, restarts the whole exchange from
// ConnectionRequest with a freshly drawn client_salt. Only once the outer
// budget is also spent does the driver fail terminally — a full timeout is
// HandshakeRetries*HandshakeRetries*HandshakeReplyTimeout.
type Driver struct {
	rand RandSource

	stage      Stage
	clientSalt uint64
	serverSalt uint64

	attempts      int
	outerAttempts int
	lastSentAt    time.Time
	err           error

	channel *channel.Channel
}

// New starts a handshake driver. clientSalt is drawn from rand here and
// reused across the inner retries of the first outer attempt; Poll draws a
// fresh one for each later outer attempt.
func New(rand RandSource) *Driver {
	return &Driver{
		rand:       rand,
		stage:      StageRequesting,
		clientSalt: rand.Uint64(),
	}
}

// Stage reports the driver's current state.
func (d *Driver) Stage() Stage { return d.stage }

// Err returns the terminal error once Stage is StageFailed.
func (d *Driver) Err() error { return d.err }

// Channel returns the session channel once Stage is StageAccepted.
func (d *Driver) Channel() *channel.Channel { return d.channel }

func (d *Driver) requestDatagram() []byte {
	ib := wire.NewIntBufferWithCapacity(4 + 1 + 8)
	ib.WriteBytes(wire.Magic[:])
	ib.WriteU8(uint8(wire.ConnectionRequest))
	ib.WriteU64(d.clientSalt)
	return ib.Bytes()
}

func (d *Driver) responseDatagram() []byte {
	ib := wire.NewIntBufferWithCapacity(4 + 1 + 8)
	ib.WriteBytes(wire.Magic[:])
	ib.WriteU8(uint8(wire.ChallengeResponse))
	ib.WriteU64(d.clientSalt ^ d.serverSalt)
	return ib.Bytes()
}

// Poll returns the datagram (if any) that should be (re)sent at now, given
// the driver's stage and how long it's been waiting for a reply. Once the
// inner per-phase retry budget is spent, it restarts the exchange from
// ConnectionRequest with a fresh client_salt, up to HandshakeRetries outer
// attempts, before failing the driver with ErrTimeout.
func (d *Driver) Poll(now time.Time) []byte {
	switch d.stage {
	case StageRequesting, StageChallenged:
	default:
		return nil
	}

	if !d.lastSentAt.IsZero() && now.Sub(d.lastSentAt) < proto.HandshakeReplyTimeout {
		return nil
	}

	if d.attempts >= proto.HandshakeRetries {
		if d.outerAttempts+1 >= proto.HandshakeRetries {
			d.stage = StageFailed
			d.err = ErrTimeout
			return nil
		}
		d.outerAttempts++
		d.clientSalt = d.rand.Uint64()
		d.serverSalt = 0
		d.stage = StageRequesting
		d.attempts = 0
		d.lastSentAt = time.Time{}
	}

	d.attempts++
	d.lastSentAt = now

	if d.stage == StageRequesting {
		return d.requestDatagram()
	}
	return d.responseDatagram()
}

// HandleChallenge processes an inbound Challenge carrying the echoed
// clientSalt and a fresh serverSalt, advancing the driver to StageChallenged
// and resetting its retry budget for the response leg.
func (d *Driver) HandleChallenge(echoedClientSalt, serverSalt uint64) {
	if d.stage != StageRequesting {
		return
	}
	if echoedClientSalt != d.clientSalt {
		d.stage = StageFailed
		d.err = ErrRejected
		return
	}
	d.serverSalt = serverSalt
	d.stage = StageChallenged
	d.attempts = 0
	d.lastSentAt = time.Time{}
}

// HandleAccepted processes an inbound ConnectionAccepted carrying the
// server-assigned connection id, completing the handshake and constructing
// the client-mode channel for the session.
func (d *Driver) HandleAccepted(connID uint32) uint32 {
	if d.stage != StageChallenged {
		return connID
	}
	sessionKey := d.clientSalt ^ d.serverSalt
	d.channel = channel.New(channel.ModeClient, sessionKey)
	d.stage = StageAccepted
	return connID
}
