// Package sendbuf implements the per-channel outbound reliable send buffer:
// a ring of outstanding payloads paced for retransmission by an RTT
// estimate.
package sendbuf

import (
	"time"

	"github.com/netshard/reliudp/internal/proto"
	"github.com/netshard/reliudp/internal/rtt"
	"github.com/netshard/reliudp/internal/wire"
)

// outstanding is ring A: the original framing needed to rebuild and resend
// a reliable datagram.
type outstanding struct {
	header  wire.Header
	payload []byte
	sentAt  time.Time
	hasSent bool
}

// ackRecord is ring B: whether a sequence has been acked, and when it was
// first pushed (used to give up on it after SendTimeout).
type ackRecord struct {
	acked     bool
	createdAt time.Time
}

// Entry is a snapshot of an outstanding sequence returned by
// CollectRetransmits, carrying enough to rebuild and resend the datagram.
type Entry struct {
	Seq     uint16
	Header  wire.Header
	Payload []byte
}

// SendBuffer tracks outstanding reliable sends for one channel.
type SendBuffer struct {
	outstanding *wire.Ring[outstanding]
	acks        *wire.Ring[ackRecord]
	rtt         *rtt.Tracker
	now         func() time.Time
}

// New returns an empty send buffer backed by the given RTT tracker (shared
// with the owning channel so retransmit pacing reflects the same estimate
// ack recording feeds).
func New(tracker *rtt.Tracker) *SendBuffer {
	return &SendBuffer{
		outstanding: wire.NewRing[outstanding](proto.RingCapacity),
		acks:        wire.NewRing[ackRecord](proto.RingCapacity),
		rtt:         tracker,
		now:         time.Now,
	}
}

// Push records a freshly emitted reliable datagram as outstanding. A
// sequence re-entering the ring overwrites whatever was in that slot
// before, regardless of its prior ack state.
func (sb *SendBuffer) Push(seq uint16, header wire.Header, payload []byte) {
	sb.outstanding.Insert(seq, outstanding{header: header, payload: payload})
	sb.acks.Insert(seq, ackRecord{createdAt: sb.now()})
}

// MarkSent timestamps seq's wire transmission. It may be called some time
// after Push, since readiness-driven sends can be deferred.
func (sb *SendBuffer) MarkSent(seq uint16, at time.Time) {
	out, ok := sb.outstanding.Get(seq)
	if !ok {
		return
	}
	out.sentAt = at
	out.hasSent = true
	sb.outstanding.Insert(seq, out)
}

// MarkAcked processes a piggybacked ack: ack itself records an RTT sample
// (when a send timestamp exists), then every bit i set in ackBits acks
// ack-i-1 without recording RTT (a bitfield ack's send time is ambiguous
// across retransmits).
func (sb *SendBuffer) MarkAcked(ack uint16, ackBits uint32, now time.Time) {
	sb.ackOne(ack, now, true)
	for i := 0; i < 32; i++ {
		if ackBits&(1<<uint(i)) == 0 {
			continue
		}
		seq := ack - uint16(i) - 1
		sb.ackOne(seq, now, false)
	}
}

func (sb *SendBuffer) ackOne(seq uint16, now time.Time, recordRTT bool) {
	rec, ok := sb.acks.Get(seq)
	if !ok || rec.acked {
		return
	}
	rec.acked = true
	sb.acks.Insert(seq, rec)

	if recordRTT {
		if out, ok := sb.outstanding.Get(seq); ok && out.hasSent {
			sb.rtt.Record(now.Sub(out.sentAt))
		}
	}
}

// CollectRetransmits walks backwards from localSeq for at most proto.Window
// sequences, appending to out every outstanding, unacked entry whose send
// has aged past the RTT-recommended timeout and whose ack record hasn't yet
// exceeded SendTimeout. Each returned entry has its sent timestamp cleared
// so a subsequent successful wire send re-timestamps it. The walk stops
// early at the first sequence whose ack record has exceeded SendTimeout:
// that sequence and everything older in the walk is considered permanently
// timed out. The second return value reports whether that sequence was
// still unacked, so the caller can treat it as a sustained-failure signal;
// an old sequence that was acked stops the walk without reporting failure.
func (sb *SendBuffer) CollectRetransmits(localSeq uint16, out []Entry) ([]Entry, bool) {
	now := sb.now()
	recommended := sb.rtt.RecommendedTimeout()

	timedOut := false
	for i := 0; i < proto.Window; i++ {
		seq := localSeq - uint16(i) - 1

		rec, ok := sb.acks.Get(seq)
		if !ok {
			continue
		}
		if now.Sub(rec.createdAt) > proto.SendTimeout {
			timedOut = !rec.acked
			break
		}
		if rec.acked {
			continue
		}

		ent, ok := sb.outstanding.Get(seq)
		if !ok {
			continue
		}
		// An entry that was Pushed but never yet MarkSent hasn't actually
		// gone out on the wire; it can't be "overdue" for a retransmit it
		// never had a first transmission for.
		if !ent.hasSent {
			continue
		}
		if now.Sub(ent.sentAt) < recommended {
			continue
		}

		out = append(out, Entry{Seq: seq, Header: ent.header, Payload: ent.payload})

		ent.hasSent = false
		sb.outstanding.Insert(seq, ent)
	}

	return out, timedOut
}

// RTT returns the tracker backing this send buffer's retransmit pacing.
func (sb *SendBuffer) RTT() *rtt.Tracker {
	return sb.rtt
}

// SetClock overrides the send buffer's time source; intended for tests
// that need to exercise SendTimeout/retransmit pacing without sleeping.
func (sb *SendBuffer) SetClock(now func() time.Time) {
	sb.now = now
}
