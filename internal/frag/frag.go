// Package frag implements the fragmentation manager: splitting oversized
// outbound messages into bounded chunks, and reassembling inbound chunks
// into complete messages.
package frag

import (
	"errors"
	"fmt"
	"time"

	"github.com/netshard/reliudp/internal/proto"
	"github.com/netshard/reliudp/internal/wire"
)

var (
	ErrTooManyFragments  = errors.New("reliudp: too many fragments")
	ErrInvalidFragmentID = errors.New("reliudp: invalid fragment id")
	ErrFragmentExpired   = errors.New("reliudp: fragment group expired")
)

// SizeMismatchError reports a fragment chunk whose declared group size
// doesn't match the group it's joining.
type SizeMismatchError struct {
	GroupID  uint16
	Expected uint8
	Got      uint8
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("reliudp: fragment group %d size mismatch: expected %d, got %d", e.GroupID, e.Expected, e.Got)
}

// Chunk pairs an outbound fragment's id with its payload, used by Split.
type Chunk struct {
	FragmentID uint8
	Payload    []byte
}

// Manager owns outbound group-id assignment and inbound group reassembly
// for one reliability class (reliable or unreliable) of one channel.
type Manager struct {
	groupSeq uint16
	groups   map[uint16]*group
	now      func() time.Time
}

type group struct {
	size        uint8
	chunks      [][]byte
	currentSize uint8
	createdAt   time.Time
}

// New returns an empty fragmentation manager.
func New() *Manager {
	return &Manager{
		groups: make(map[uint16]*group),
		now:    time.Now,
	}
}

// SetClock overrides the manager's time source; intended for tests that
// need to exercise GroupTimeout without sleeping.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Split divides payload into chunks of at most proto.FragmentSize bytes,
// assigning the manager's current outbound group id and advancing it.
// It fails with ErrTooManyFragments if the result would exceed
// proto.MaxChunks chunks.
func (m *Manager) Split(payload []byte) (groupID uint16, chunks []Chunk, err error) {
	count := (len(payload) + proto.FragmentSize - 1) / proto.FragmentSize
	if count == 0 {
		count = 1
	}
	if count > proto.MaxChunks {
		return 0, nil, ErrTooManyFragments
	}

	groupID = m.groupSeq
	m.groupSeq = wire.SeqIncrement(m.groupSeq)

	chunks = make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * proto.FragmentSize
		end := start + proto.FragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{FragmentID: uint8(i), Payload: payload[start:end]})
	}
	return groupID, chunks, nil
}

// Insert adds one inbound chunk to the group named by h.FragmentGroupID. It
// returns true iff the group is now complete. Duplicate chunks (same
// group id and fragment id) are accepted but ignored.
func (m *Manager) Insert(h wire.Header, payload []byte) (complete bool, err error) {
	if h.FragmentSize == 0 || h.FragmentID >= h.FragmentSize {
		return false, ErrInvalidFragmentID
	}

	g, exists := m.groups[h.FragmentGroupID]
	if exists {
		if m.now().Sub(g.createdAt) > proto.GroupTimeout {
			delete(m.groups, h.FragmentGroupID)
			return false, ErrFragmentExpired
		}
		if g.size != h.FragmentSize {
			return false, &SizeMismatchError{GroupID: h.FragmentGroupID, Expected: g.size, Got: h.FragmentSize}
		}
	} else {
		g = &group{
			size:      h.FragmentSize,
			chunks:    make([][]byte, h.FragmentSize),
			createdAt: m.now(),
		}
		m.groups[h.FragmentGroupID] = g
	}

	if g.chunks[h.FragmentID] == nil {
		g.chunks[h.FragmentID] = payload
		g.currentSize++
	}

	return g.currentSize == g.size, nil
}

// Assemble removes and returns the ordered chunks of a completed group. It
// fails if the group doesn't exist, isn't complete, or has expired.
func (m *Manager) Assemble(groupID uint16) ([][]byte, error) {
	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("reliudp: fragment group %d not found", groupID)
	}
	if m.now().Sub(g.createdAt) > proto.GroupTimeout {
		delete(m.groups, groupID)
		return nil, ErrFragmentExpired
	}
	if g.currentSize != g.size {
		return nil, fmt.Errorf("reliudp: fragment group %d incomplete (%d/%d)", groupID, g.currentSize, g.size)
	}
	delete(m.groups, groupID)
	return g.chunks, nil
}

// EvictExpired drops every inbound group whose first chunk arrived more
// than proto.GroupTimeout ago. Returns the number of groups dropped.
func (m *Manager) EvictExpired() int {
	dropped := 0
	now := m.now()
	for id, g := range m.groups {
		if now.Sub(g.createdAt) > proto.GroupTimeout {
			delete(m.groups, id)
			dropped++
		}
	}
	return dropped
}
