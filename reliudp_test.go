package reliudp

import (
	"bytes"
	"testing"
	"time"

	"github.com/netshard/reliudp/internal/proto"
)

func TestConnectAndExchangeReliable(t *testing.T) {
	srv, err := StartServer("127.0.0.1:0", 4)
	if err != nil {
		t.Fatalf("StartServer failed: %v", err)
	}
	defer srv.Stop()

	cli, err := Connect("127.0.0.1:0", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer cli.Disconnect()

	dest := make([]byte, 4096)
	ev, ok, err := srv.Read(dest, 2*time.Second)
	if err != nil || !ok || ev.Kind != NewConnection {
		t.Fatalf("expected NewConnection event, got ev=%+v ok=%v err=%v", ev, ok, err)
	}

	payload := bytes.Repeat([]byte{0x7A}, 1160)
	if err := cli.Send(payload, Reliable); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ev, ok, err = srv.Read(dest, 2*time.Second)
	if err != nil || !ok || ev.Kind != Receive {
		t.Fatalf("expected Receive event, got ev=%+v ok=%v err=%v", ev, ok, err)
	}
	if !bytes.Equal(dest[:ev.N], payload) {
		t.Error("received payload does not match what was sent")
	}
}

func TestFragmentedMessageReassembled(t *testing.T) {
	srv, err := StartServer("127.0.0.1:0", 4)
	if err != nil {
		t.Fatalf("StartServer failed: %v", err)
	}
	defer srv.Stop()

	cli, err := Connect("127.0.0.1:0", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer cli.Disconnect()

	dest := make([]byte, 1 << 20)
	if _, ok, _ := srv.Read(dest, 2*time.Second); !ok {
		t.Fatal("expected NewConnection event")
	}

	payload := bytes.Repeat([]byte{0x11}, 3000)
	if err := cli.Send(payload, Reliable); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ev, ok, err := srv.Read(dest, 2*time.Second)
	if err != nil || !ok || ev.Kind != Receive {
		t.Fatalf("expected Receive event, got ev=%+v ok=%v err=%v", ev, ok, err)
	}
	if ev.N != len(payload) {
		t.Fatalf("got %d bytes, want %d", ev.N, len(payload))
	}
	if !bytes.Equal(dest[:ev.N], payload) {
		t.Error("reassembled payload does not match original")
	}
}

func TestDisconnectSurfacesConnectionLost(t *testing.T) {
	srv, err := StartServer("127.0.0.1:0", 4)
	if err != nil {
		t.Fatalf("StartServer failed: %v", err)
	}
	defer srv.Stop()

	cli, err := Connect("127.0.0.1:0", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dest := make([]byte, 256)
	if _, ok, _ := srv.Read(dest, 2*time.Second); !ok {
		t.Fatal("expected NewConnection event")
	}

	cli.Disconnect()

	ev, ok, err := srv.Read(dest, 2*time.Second)
	if err != nil || !ok || ev.Kind != ConnectionLost {
		t.Fatalf("expected ConnectionLost event, got ev=%+v ok=%v err=%v", ev, ok, err)
	}
}

func TestSendTooLargeRejected(t *testing.T) {
	srv, err := StartServer("127.0.0.1:0", 4)
	if err != nil {
		t.Fatalf("StartServer failed: %v", err)
	}
	defer srv.Stop()

	cli, err := Connect("127.0.0.1:0", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer cli.Disconnect()

	dest := make([]byte, 256)
	srv.Read(dest, 2*time.Second)

	oversized := make([]byte, 261121)
	if err := cli.Send(oversized, Reliable); err != ErrPacketTooLarge {
		t.Errorf("Send(oversized) = %v, want ErrPacketTooLarge", err)
	}
}

func TestSecondConnectionTimesOutWhenServerFull(t *testing.T) {
	srv, err := StartServer("127.0.0.1:0", 1)
	if err != nil {
		t.Fatalf("StartServer failed: %v", err)
	}
	defer srv.Stop()

	cli, err := Connect("127.0.0.1:0", srv.LocalAddr().String())
	if err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	defer cli.Disconnect()

	dest := make([]byte, 256)
	srv.Read(dest, 2*time.Second)

	// A handshake attempt that never gets past ConnectionRequest spends
	// its full outer*inner retry budget before giving up.
	minElapsed := time.Duration(proto.HandshakeRetries) * time.Duration(proto.HandshakeRetries) * proto.HandshakeReplyTimeout

	start := time.Now()
	_, err = Connect("127.0.0.1:0", srv.LocalAddr().String())
	elapsed := time.Since(start)

	if err != ErrHandshakeTimeout {
		t.Errorf("second Connect against a full server = %v, want ErrHandshakeTimeout", err)
	}
	if elapsed < minElapsed {
		t.Errorf("second Connect gave up after %v, want at least %v (the full outer*inner retry budget)", elapsed, minElapsed)
	}
}
