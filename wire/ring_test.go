package wire

import (
	"bytes"
	"fmt"
	"testing"
)

func newRing(size int) *Ring {
	return &Ring{Data: make([]byte, size)}
}

func TestFreeSpaceUsedComplement(t *testing.T) {
	cases := []struct{ head, tail, size uint32 }{
		{0, 0, 16}, {5, 5, 16}, {10, 3, 16}, {3, 10, 16}, {15, 0, 16},
	}
	for _, c := range cases {
		free := FreeSpace(c.head, c.tail, c.size)
		used := Used(c.head, c.tail, c.size)
		if free+used != c.size-1 {
			t.Fatalf("head=%d tail=%d size=%d: free=%d used=%d, want sum %d",
				c.head, c.tail, c.size, free, used, c.size-1)
		}
	}
}

func TestPushPopByte(t *testing.T) {
	r := newRing(4)
	for _, b := range []byte("ab") {
		if err := r.PushByte(b); err != nil {
			t.Fatalf("push %q: %v", b, err)
		}
	}
	for _, want := range []byte("ab") {
		got, err := r.PopByte()
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
	if _, err := r.PopByte(); err != ErrRingEmpty {
		t.Fatalf("expected ErrRingEmpty, got %v", err)
	}
}

func TestRingFullAtSizeMinusOne(t *testing.T) {
	r := newRing(4)
	for i := 0; i < 3; i++ {
		if err := r.PushByte(byte('a' + i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := r.PushByte('x'); err != ErrRingFull {
		t.Fatalf("expected ErrRingFull, got %v", err)
	}
}

func TestPushBytesDropHeadEviction(t *testing.T) {
	r := newRing(256)
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, fmt.Sprintf("%d\n", i))
	}
	for _, line := range lines {
		r.PushBytesDropHead([]byte(line))
	}
	out := make([]byte, r.Used())
	n := r.ReadBytes(out, len(out))
	out = out[:n]
	if bytes.HasPrefix(out, []byte("0\n")) || bytes.Contains(out, []byte("\n0\n")) {
		t.Fatalf("expected earliest lines to be evicted, found %q in %q", "0\n", out)
	}
	if !bytes.HasSuffix(out, []byte("99\n")) {
		t.Fatalf("expected output to end with the most recent line, got %q", out)
	}
}

func TestReadBytesWrapAround(t *testing.T) {
	r := newRing(8)
	r.Head = 6
	r.Tail = 6
	r.PushBytesDropHead([]byte("abcdef"))
	out := make([]byte, r.Used())
	n := r.ReadBytes(out, len(out))
	if string(out[:n]) != "abcdef" {
		t.Fatalf("got %q want %q", out[:n], "abcdef")
	}
}

func TestWriteBytesWrapAround(t *testing.T) {
	r := newRing(8)
	r.Head = 6
	r.Tail = 6
	r.WriteBytes([]byte("abcdef"))
	if r.Head != 4 {
		t.Fatalf("head = %d, want 4", r.Head)
	}
	out := make([]byte, 6)
	n := r.ReadBytes(out, len(out))
	if string(out[:n]) != "abcdef" {
		t.Fatalf("got %q want %q", out[:n], "abcdef")
	}
}

func TestPushBytesNoSpaceOnInputRing(t *testing.T) {
	r := newRing(4)
	n, err := r.PushBytes([]byte("abcd"))
	if err != ErrRingFull {
		t.Fatalf("expected ErrRingFull, got %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 bytes written before full, got %d", n)
	}
}
