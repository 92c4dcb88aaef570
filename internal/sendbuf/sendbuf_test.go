package sendbuf

import (
	"testing"
	"time"

	"github.com/netshard/reliudp/internal/proto"
	"github.com/netshard/reliudp/internal/rtt"
	"github.com/netshard/reliudp/internal/wire"
)

func newTestBuffer(now *time.Time) *SendBuffer {
	sb := New(rtt.New())
	sb.SetClock(func() time.Time { return *now })
	return sb
}

func TestMarkAckedPrimaryRecordsRTT(t *testing.T) {
	now := time.Unix(0, 0)
	sb := newTestBuffer(&now)

	sb.Push(5, wire.Header{Seq: 5}, []byte("x"))
	sb.MarkSent(5, now)

	now = now.Add(20 * time.Millisecond)
	sb.MarkAcked(5, 0, now)

	if got := sb.RTT().Mean(); got != 20*time.Millisecond {
		t.Errorf("RTT mean = %v, want 20ms", got)
	}
}

func TestMarkAckedBitfieldDoesNotRecordRTT(t *testing.T) {
	now := time.Unix(0, 0)
	sb := newTestBuffer(&now)

	sb.Push(10, wire.Header{Seq: 10}, []byte("a"))
	sb.MarkSent(10, now)

	now = now.Add(5 * time.Millisecond)
	// ack=11, bit 0 set => acks seq 10 via the bitfield, not the primary ack.
	sb.MarkAcked(11, 1, now)

	if got := sb.RTT().Mean(); got != 0 {
		t.Errorf("expected bitfield ack not to record RTT, mean = %v", got)
	}
}

func TestCollectRetransmitsPacedByRecommendedTimeout(t *testing.T) {
	now := time.Unix(0, 0)
	sb := newTestBuffer(&now)

	sb.Push(1, wire.Header{Seq: 1}, []byte("p"))
	sb.MarkSent(1, now)

	// Immediately after sending, nothing should be retransmitted yet.
	if out, _ := sb.CollectRetransmits(2, nil); len(out) != 0 {
		t.Errorf("expected no retransmits immediately after send, got %d", len(out))
	}

	now = now.Add(rtt.MaxRTO + time.Millisecond)
	out, timedOut := sb.CollectRetransmits(2, nil)
	if len(out) != 1 || out[0].Seq != 1 {
		t.Fatalf("expected seq 1 to be retransmitted, got %+v", out)
	}
	if timedOut {
		t.Error("expected timedOut=false; entry is still within SendTimeout")
	}
}

func TestCollectRetransmitsSkipsEntryNeverMarkedSent(t *testing.T) {
	now := time.Unix(0, 0)
	sb := newTestBuffer(&now)

	// Push without a following MarkSent, mirroring a send that's been
	// queued but not yet actually handed to the wire.
	sb.Push(2, wire.Header{Seq: 2}, []byte("p"))

	now = now.Add(rtt.MaxRTO + time.Millisecond)
	out, timedOut := sb.CollectRetransmits(3, nil)
	if len(out) != 0 {
		t.Errorf("expected an entry with no sent timestamp not to be collected, got %+v", out)
	}
	if timedOut {
		t.Error("expected timedOut=false; entry hasn't exceeded SendTimeout")
	}
}

func TestCollectRetransmitsGivesUpAfterSendTimeout(t *testing.T) {
	now := time.Unix(0, 0)
	sb := newTestBuffer(&now)

	sb.Push(3, wire.Header{Seq: 3}, []byte("p"))
	sb.MarkSent(3, now)

	now = now.Add(proto.SendTimeout + time.Millisecond)
	out, timedOut := sb.CollectRetransmits(4, nil)
	if len(out) != 0 {
		t.Errorf("expected sequence past SendTimeout to be abandoned, got %+v", out)
	}
	if !timedOut {
		t.Error("expected timedOut=true once a tracked sequence exceeds SendTimeout")
	}
}

func TestCollectRetransmitsSkipsAcked(t *testing.T) {
	now := time.Unix(0, 0)
	sb := newTestBuffer(&now)

	sb.Push(7, wire.Header{Seq: 7}, []byte("p"))
	sb.MarkSent(7, now)
	sb.MarkAcked(7, 0, now)

	now = now.Add(rtt.MaxRTO + time.Millisecond)
	out, _ := sb.CollectRetransmits(8, nil)
	if len(out) != 0 {
		t.Errorf("expected acked sequence not to be retransmitted, got %+v", out)
	}
}
