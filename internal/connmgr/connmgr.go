// Package connmgr implements the server-side connection manager: a
// fixed-capacity slot table, per-address handshake bookkeeping, and the
// server half of the anti-spoof handshake state machine described in
// SPEC_FULL.md §4.6-4.7.
package connmgr

import (
	"net"
	"time"

	"github.com/netshard/reliudp/internal/channel"
	"github.com/netshard/reliudp/internal/proto"
	"github.com/netshard/reliudp/internal/wire"
)

// RandSource is the external random-number collaborator; production code
// uses a crypto/rand-backed implementation, tests use a deterministic one.
type RandSource interface {
	Uint64() uint64
}

// Identity is the bookkeeping record for one accepted connection.
type Identity struct {
	ConnectionID uint32
	Addr         net.Addr
	ClientSalt   uint64
	ServerSalt   uint64
	SessionKey   uint64
	CreatedAt    time.Time
}

type pending struct {
	addr       net.Addr
	clientSalt uint64
	serverSalt uint64
	createdAt  time.Time
}

type slot struct {
	identity Identity
	channel  *channel.Channel
}

// ConnectResult is the outcome of processing an inbound ConnectionRequest
// or ChallengeResponse.
type ConnectResult int

const (
	Rejected ConnectResult = iota
	Connecting
	Connected
)

// Manager is the fixed-capacity server-side connection table.
type Manager struct {
	capacity int
	slots    []*slot
	byAddr   map[string]int
	pending  map[string]*pending
	nextID   uint32
	rand     RandSource
	now      func() time.Time
}

// New returns a manager with room for capacity simultaneous connections.
func New(capacity int, rand RandSource) *Manager {
	return &Manager{
		capacity: capacity,
		slots:    make([]*slot, capacity),
		byAddr:   make(map[string]int, capacity),
		pending:  make(map[string]*pending),
		nextID:   1,
		rand:     rand,
		now:      time.Now,
	}
}

func key(addr net.Addr) string { return addr.String() }

func (m *Manager) freeSlot() int {
	for i, s := range m.slots {
		if s == nil {
			return i
		}
	}
	return -1
}

// ProcessConnectionRequest handles an inbound ConnectionRequest from addr
// carrying clientSalt. It returns the handshake outcome and, for
// Connecting, the Challenge datagram to send back.
func (m *Manager) ProcessConnectionRequest(addr net.Addr, clientSalt uint64) (ConnectResult, []byte) {
	k := key(addr)

	if _, ok := m.pending[k]; ok {
		// First client_salt wins; ignore retries that race a reply.
		return Connecting, nil
	}
	if _, ok := m.byAddr[k]; ok {
		return Connected, nil
	}

	if m.freeSlot() < 0 {
		return Rejected, nil
	}

	serverSalt := m.rand.Uint64()
	m.pending[k] = &pending{addr: addr, clientSalt: clientSalt, serverSalt: serverSalt, createdAt: m.now()}

	ib := wire.NewIntBufferWithCapacity(4 + 1 + 16)
	ib.WriteBytes(wire.Magic[:])
	ib.WriteU8(uint8(wire.Challenge))
	ib.WriteU64(clientSalt)
	ib.WriteU64(serverSalt)
	return Connecting, ib.Bytes()
}

// ProcessChallengeResponse handles an inbound ChallengeResponse from addr
// carrying the echoed client_salt^server_salt value. On success it
// allocates a connection id, creates the server-mode channel, installs it
// and returns Connected plus the ConnectionAccepted datagram.
func (m *Manager) ProcessChallengeResponse(addr net.Addr, echoed uint64) (ConnectResult, uint32, *channel.Channel, []byte) {
	k := key(addr)

	p, ok := m.pending[k]
	if !ok || p.clientSalt^p.serverSalt != echoed {
		return Rejected, 0, nil, nil
	}

	slotIdx := m.freeSlot()
	if slotIdx < 0 {
		delete(m.pending, k)
		return Rejected, 0, nil, nil
	}

	connID := m.nextID
	m.nextID++

	sessionKey := p.clientSalt ^ p.serverSalt
	ch := channel.New(channel.ModeServer, sessionKey)

	m.slots[slotIdx] = &slot{
		identity: Identity{
			ConnectionID: connID,
			Addr:         addr,
			ClientSalt:   p.clientSalt,
			ServerSalt:   p.serverSalt,
			SessionKey:   sessionKey,
			CreatedAt:    m.now(),
		},
		channel: ch,
	}
	m.byAddr[k] = slotIdx
	delete(m.pending, k)

	ib := wire.NewIntBufferWithCapacity(4 + 1 + 4)
	ib.WriteBytes(wire.Magic[:])
	ib.WriteU8(uint8(wire.ConnectionAccepted))
	ib.WriteU32(connID)
	return Connected, connID, ch, ib.Bytes()
}

// Get returns the channel and identity installed for addr, if any.
func (m *Manager) Get(addr net.Addr) (*channel.Channel, Identity, bool) {
	idx, ok := m.byAddr[key(addr)]
	if !ok {
		return nil, Identity{}, false
	}
	s := m.slots[idx]
	return s.channel, s.identity, true
}

// GetByConnID scans for the channel/identity/address matching id. The slot
// table is small (bounded by server capacity) so a linear scan is fine.
func (m *Manager) GetByConnID(id uint32) (*channel.Channel, Identity, bool) {
	for _, s := range m.slots {
		if s != nil && s.identity.ConnectionID == id {
			return s.channel, s.identity, true
		}
	}
	return nil, Identity{}, false
}

// Disconnect frees the slot owned by addr, returning the former
// connection id.
func (m *Manager) Disconnect(addr net.Addr) (uint32, bool) {
	k := key(addr)
	idx, ok := m.byAddr[k]
	if !ok {
		return 0, false
	}
	connID := m.slots[idx].identity.ConnectionID
	m.slots[idx] = nil
	delete(m.byAddr, k)
	return connID, true
}

// Each calls fn for every installed (addr, identity, channel) triple.
func (m *Manager) Each(fn func(addr net.Addr, id Identity, ch *channel.Channel)) {
	for _, s := range m.slots {
		if s != nil {
			fn(s.identity.Addr, s.identity, s.channel)
		}
	}
}

// pendingExpiry bounds how long an unanswered ConnectionRequest's salt
// pair is kept, so a flood of requests that never complete the handshake
// can't grow the pending table without bound.
const pendingExpiry = proto.HandshakeReplyTimeout * proto.HandshakeRetries * 2

// SweepExpiredPending evicts pending handshake records older than
// pendingExpiry. Called by the manager's own Update on every tick.
func (m *Manager) SweepExpiredPending(now time.Time) {
	for k, p := range m.pending {
		if now.Sub(p.createdAt) > pendingExpiry {
			delete(m.pending, k)
		}
	}
}

// Update ticks every installed channel, invoking fn with its outbound
// datagrams (if any), and sweeps expired pending handshake records. A
// channel whose retransmit walk finds sustained send failure (Dead, per
// SPEC_FULL.md's Lifecycles section) is torn down and its slot freed; the
// connection ids torn down this way are returned so the caller can surface
// ConnectionLost for them, the same as an explicit Disconnect packet does.
func (m *Manager) Update(now time.Time, fn func(addr net.Addr, out []channel.Outbound)) []uint32 {
	m.SweepExpiredPending(now)
	var lost []uint32
	for i, s := range m.slots {
		if s == nil {
			continue
		}
		out := s.channel.Tick(now)
		if s.channel.Dead() {
			lost = append(lost, s.identity.ConnectionID)
			delete(m.byAddr, key(s.identity.Addr))
			m.slots[i] = nil
			continue
		}
		if len(out) > 0 {
			fn(s.identity.Addr, out)
		}
	}
	return lost
}
