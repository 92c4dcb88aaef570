package connmgr

import (
	"net"
	"testing"
)

type fixedRand struct{ values []uint64 }

func (f *fixedRand) Uint64() uint64 {
	v := f.values[0]
	f.values = f.values[1:]
	return v
}

func addr(s string) net.Addr {
	a, _ := net.ResolveUDPAddr("udp", s)
	return a
}

func TestHandshakeEndToEnd(t *testing.T) {
	m := New(1, &fixedRand{values: []uint64{42}})
	clientA := addr("127.0.0.1:1001")

	result, out := m.ProcessConnectionRequest(clientA, 7)
	if result != Connecting || out == nil {
		t.Fatalf("ProcessConnectionRequest = (%v, %v), want (Connecting, non-nil)", result, out)
	}

	echoed := uint64(7) ^ uint64(42)
	result, connID, ch, out := m.ProcessChallengeResponse(clientA, echoed)
	if result != Connected || ch == nil || out == nil {
		t.Fatalf("ProcessChallengeResponse = (%v, %d, %v, %v), want Connected with a channel", result, connID, ch, out)
	}
	if connID != 1 {
		t.Errorf("first connection id = %d, want 1", connID)
	}

	if _, _, ok := m.Get(clientA); !ok {
		t.Error("expected clientA installed after accept")
	}
}

func TestWrongEchoRejected(t *testing.T) {
	m := New(1, &fixedRand{values: []uint64{1}})
	clientA := addr("127.0.0.1:1001")
	m.ProcessConnectionRequest(clientA, 5)

	result, _, ch, out := m.ProcessChallengeResponse(clientA, 999)
	if result != Rejected || ch != nil || out != nil {
		t.Errorf("got (%v, %v, %v), want Rejected with nils", result, ch, out)
	}
}

func TestEchoFromDifferentAddressRejected(t *testing.T) {
	m := New(1, &fixedRand{values: []uint64{1}})
	clientA := addr("127.0.0.1:1001")
	clientB := addr("127.0.0.1:1002")
	m.ProcessConnectionRequest(clientA, 5)

	echoed := uint64(5) ^ uint64(1)
	result, _, ch, _ := m.ProcessChallengeResponse(clientB, echoed)
	if result != Rejected || ch != nil {
		t.Errorf("got (%v, %v), want Rejected (pending is keyed by address)", result, ch)
	}
}

func TestCapacityExhaustedRejectsNewRequest(t *testing.T) {
	m := New(1, &fixedRand{values: []uint64{1, 2}})
	clientA := addr("127.0.0.1:1001")
	clientB := addr("127.0.0.1:1002")

	m.ProcessConnectionRequest(clientA, 5)
	m.ProcessChallengeResponse(clientA, uint64(5)^uint64(1))

	result, out := m.ProcessConnectionRequest(clientB, 9)
	if result != Rejected || out != nil {
		t.Errorf("second connect on a full table = (%v, %v), want (Rejected, nil)", result, out)
	}
}

func TestFirstSaltWinsOnPendingRetry(t *testing.T) {
	m := New(1, &fixedRand{values: []uint64{1}})
	clientA := addr("127.0.0.1:1001")

	m.ProcessConnectionRequest(clientA, 5)
	result, out := m.ProcessConnectionRequest(clientA, 999) // racing retry, different salt
	if result != Connecting || out != nil {
		t.Errorf("retry while pending = (%v, %v), want (Connecting, nil)", result, out)
	}

	// The original salt (5) must still be the one that validates.
	result2, _, ch, _ := m.ProcessChallengeResponse(clientA, uint64(5)^uint64(1))
	if result2 != Connected || ch == nil {
		t.Error("expected original client_salt to still validate")
	}
}

func TestDisconnectFreesSlot(t *testing.T) {
	m := New(1, &fixedRand{values: []uint64{1, 2}})
	clientA := addr("127.0.0.1:1001")
	m.ProcessConnectionRequest(clientA, 5)
	m.ProcessChallengeResponse(clientA, uint64(5)^uint64(1))

	connID, ok := m.Disconnect(clientA)
	if !ok || connID != 1 {
		t.Fatalf("Disconnect = (%d, %v), want (1, true)", connID, ok)
	}

	clientB := addr("127.0.0.1:1002")
	result, out := m.ProcessConnectionRequest(clientB, 9)
	if result != Connecting || out == nil {
		t.Errorf("expected freed slot to admit a new connection, got (%v, %v)", result, out)
	}
}
