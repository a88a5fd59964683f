package wire

import (
	"errors"
	"testing"
)

func TestControlBlockRoundTrip(t *testing.T) {
	cb := ControlBlock{
		Magic:        Magic,
		Flags:        FlagBusy | FlagInputRequested,
		OutHead:      10,
		OutTail:      3,
		OutSize:      1024,
		OutBuf:       0x2000000000001000,
		InHead:       1,
		InTail:       1,
		InSize:       256,
		InBuf:        0x2000000000002000,
		FileTransfer: 0x2000000000003000,
	}
	buf := make([]byte, ControlBlockSize)
	if err := cb.Encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeControlBlock(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != cb {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, cb)
	}
}

func TestValidateRejectsBadMagic(t *testing.T) {
	cb := ControlBlock{Magic: 0xdeadbeef, OutSize: 16, InSize: 16}
	if err := cb.Validate(); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestValidateRejectsZeroMagic(t *testing.T) {
	var cb ControlBlock
	if err := cb.Validate(); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic for zero magic, got %v", err)
	}
}

func TestValidateRejectsOutOfRangeOffsets(t *testing.T) {
	cb := ControlBlock{Magic: Magic, OutSize: 16, OutHead: 99, InSize: 16}
	if err := cb.Validate(); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestValidateAcceptsWellFormedBlock(t *testing.T) {
	cb := ControlBlock{Magic: Magic, OutSize: 16, OutHead: 3, OutTail: 9, InSize: 8, InHead: 1, InTail: 1}
	if err := cb.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
