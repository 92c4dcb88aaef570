package reliudp

import "errors"

// User-visible errors returned by the Client/Server API surface. Internal
// wire- and protocol-level errors (malformed headers, fragment bookkeeping)
// never escape past the channel boundary; they're logged and the offending
// datagram is dropped.
var (
	// ErrHandshakeTimeout is returned by Connect when no ConnectionAccepted
	// arrives after the handshake's full retry budget is spent.
	ErrHandshakeTimeout = errors.New("reliudp: handshake timed out")
	// ErrHandshakeRejected is returned by Connect when the server's
	// Challenge doesn't echo this client's salt.
	ErrHandshakeRejected = errors.New("reliudp: handshake rejected")
	// ErrSendQueueClosed is returned by Client.Send/Server.Send once the
	// owning process's loop has stopped, either because its socket failed or
	// because it was shut down. Connect reports a socket failure during the
	// handshake as the socket's own error.
	ErrSendQueueClosed = errors.New("reliudp: send queue closed")
	// ErrPacketTooLarge is returned by Send when the payload exceeds the
	// maximum message size of 261120 bytes (255 chunks of 1024 bytes).
	ErrPacketTooLarge = errors.New("reliudp: packet exceeds maximum message size")
	// ErrDestinationTooSmall is returned by Server.Read/Client.Read when
	// the caller's destination buffer can't hold the delivered message.
	ErrDestinationTooSmall = errors.New("reliudp: destination buffer too small")
	// ErrNotConnected is returned by Server.Send when addressed to a
	// connection id that isn't currently installed.
	ErrNotConnected = errors.New("reliudp: not connected")
)
