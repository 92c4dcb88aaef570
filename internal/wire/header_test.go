package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderRoundTripNonFragment(t *testing.T) {
	h := Header{Seq: 42, Type: PayloadReliable, SessionKey: 0xDEADBEEF, Ack: 7, AckBits: 0xF0F0}
	encoded := EncodeHeader(h, []byte("hello"))

	rest, ok := StripMagic(encoded)
	if !ok {
		t.Fatal("expected magic to verify")
	}
	got, payload, err := ReadHeader(rest)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if got != h {
		t.Errorf("ReadHeader() = %+v, want %+v", got, h)
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}
}

func TestHeaderRoundTripFragment(t *testing.T) {
	h := Header{
		Seq: 1, Type: PayloadReliableFrag, SessionKey: 9, Ack: 2, AckBits: 3,
		FragmentGroupID: 55, FragmentID: 1, FragmentSize: 4,
	}
	encoded := EncodeHeader(h, []byte{0x01, 0x02})
	rest, ok := StripMagic(encoded)
	if !ok {
		t.Fatal("expected magic to verify")
	}
	got, payload, err := ReadHeader(rest)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if got != h {
		t.Errorf("ReadHeader() = %+v, want %+v", got, h)
	}
	if !bytes.Equal(payload, []byte{0x01, 0x02}) {
		t.Errorf("payload = %v, want [1 2]", payload)
	}
}

func TestHeaderTooShortFails(t *testing.T) {
	h := Header{Seq: 1, Type: PayloadReliable, SessionKey: 1, Ack: 1, AckBits: 1}
	encoded := EncodeHeader(h, nil)
	rest, ok := StripMagic(encoded)
	if !ok {
		t.Fatal("expected magic to verify")
	}
	// One byte shorter than the declared header size.
	short := rest[:len(rest)-1]
	if _, _, err := ReadHeader(short); !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("ReadHeader on truncated buffer = %v, want ErrMalformedHeader", err)
	}
}

func TestHeaderUnknownTypeFails(t *testing.T) {
	ib := NewIntBufferWithCapacity(0)
	ib.WriteU16(0)
	ib.WriteU8(200) // not a valid PacketType
	ib.WriteU64(0)
	ib.WriteU16(0)
	ib.WriteU32(0)
	if _, _, err := ReadHeader(ib.Bytes()); !errors.Is(err, ErrUnknownPacketType) {
		t.Errorf("ReadHeader with unknown type = %v, want ErrUnknownPacketType", err)
	}
}

func TestStripMagicRejectsWrongPrefix(t *testing.T) {
	if _, ok := StripMagic([]byte{0, 0, 0, 0, 1}); ok {
		t.Error("expected wrong magic to fail verification")
	}
	if _, ok := StripMagic([]byte{1, 2}); ok {
		t.Error("expected too-short buffer to fail verification")
	}
}
