package firmware

import (
	"strings"
	"testing"

	"github.com/choco-technologies/dmlog/wire"
)

// drainVersionLine consumes the "dmlog v1\n" line Create pushes, so
// later assertions in these tests see only what the test itself wrote.
func drainVersionLine(t *testing.T, c *Context) {
	t.Helper()
	dst := make([]byte, 64)
	if _, ok, err := c.ReadNext(dst); err != nil || !ok {
		t.Fatalf("expected to drain the version line, ok=%v err=%v", ok, err)
	}
}

func TestPutsnFlushesOnNewline(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	drainVersionLine(t, c)

	if err := c.Putsn("hello\n"); err != nil {
		t.Fatalf("Putsn: %v", err)
	}
	dst := make([]byte, 64)
	n, ok, err := c.ReadNext(dst)
	if err != nil || !ok {
		t.Fatalf("ReadNext: ok=%v err=%v", ok, err)
	}
	if string(dst[:n]) != "hello\n" {
		t.Fatalf("got %q, want %q", dst[:n], "hello\n")
	}
}

func TestPutsnFlushesWithoutTrailingNewline(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	drainVersionLine(t, c)

	if err := c.Putsn("partial"); err != nil {
		t.Fatalf("Putsn: %v", err)
	}
	dst := make([]byte, 64)
	n, ok, err := c.ReadNext(dst)
	if err != nil || !ok {
		t.Fatalf("ReadNext: ok=%v err=%v", ok, err)
	}
	if string(dst[:n]) != "partial" {
		t.Fatalf("got %q, want %q", dst[:n], "partial")
	}
}

func TestOutputRingDropsOldestOnOverrun(t *testing.T) {
	// A small ring forces the drop-head policy to evict early lines
	// while writing many short ones, mirroring the documented
	// 256-byte-ring/many-short-lines overrun scenario.
	region := make([]byte, wire.ControlBlockSize+wire.FileTransferDescriptorSize+wire.DefaultChunkSize+64+16)
	c, err := Create(region, WithSplitPercent(99))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	drainVersionLine(t, c)

	for i := 0; i < 100; i++ {
		if err := c.Putsn("x\n"); err != nil {
			t.Fatalf("Putsn iteration %d: %v", i, err)
		}
	}

	// The ring cannot possibly hold all 100 lines; at minimum the most
	// recent line must have survived the eviction.
	var last string
	for {
		dst := make([]byte, 32)
		n, ok, err := c.ReadNext(dst)
		if err != nil {
			t.Fatalf("ReadNext: %v", err)
		}
		if !ok {
			break
		}
		last = string(dst[:n])
	}
	if last != "x\n" {
		t.Fatalf("expected the last written line to survive eviction, got %q", last)
	}
}

func TestInputAvailableAndGetc(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.InputAvailable() {
		t.Fatalf("expected no input available on a fresh context")
	}

	ring := c.inRing()
	ring.WriteBytes([]byte("ab"))
	wire.StoreInHead(region, ring.Head)

	if !c.InputAvailable() {
		t.Fatalf("expected input available after the monitor writes bytes")
	}
	b, err := c.InputGetc()
	if err != nil {
		t.Fatalf("InputGetc: %v", err)
	}
	if b != 'a' {
		t.Fatalf("got %q, want 'a'", b)
	}
}

func TestInputGetsStopsAtNewlineOrLimit(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ring := c.inRing()
	ring.WriteBytes([]byte("line one\nleftover"))
	wire.StoreInHead(region, ring.Head)

	dst := make([]byte, 32)
	n, ok, err := c.InputGets(dst)
	if err != nil {
		t.Fatalf("InputGets: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok to report characters were read")
	}
	if got := string(dst[:n]); got != "line one\n" {
		t.Fatalf("got %q, want %q", got, "line one\n")
	}

	small := make([]byte, 4)
	n, ok, err = c.InputGets(small)
	if err != nil {
		t.Fatalf("InputGets: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok to report characters were read")
	}
	if got := string(small[:n]); got != "lef" {
		t.Fatalf("got %q, want %q (bounded by len(dst)-1)", got, "lef")
	}
}

// TestInputGetsMaxlenOneReportsFailure is spec.md §8's literal boundary
// property: a maxlen of 1 reserves no room for a character (the single
// byte is needed for the implied null terminator), so the call must
// report ok == false and read nothing, even though the input ring has
// bytes waiting.
func TestInputGetsMaxlenOneReportsFailure(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ring := c.inRing()
	ring.WriteBytes([]byte("x"))
	wire.StoreInHead(region, ring.Head)

	dst := make([]byte, 1)
	n, ok, err := c.InputGets(dst)
	if err != nil {
		t.Fatalf("InputGets: %v", err)
	}
	if ok {
		t.Fatalf("expected ok == false for a maxlen of 1")
	}
	if n != 0 {
		t.Fatalf("got n=%d, want 0", n)
	}
	if !c.InputAvailable() {
		t.Fatalf("expected the input ring untouched by a maxlen=1 call")
	}
}

func TestInputRequestSetsModeBits(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.InputRequest(wire.FlagInputEchoOff); err != nil {
		t.Fatalf("InputRequest: %v", err)
	}
	got := wire.LoadFlags(region)
	if !got.Has(wire.FlagInputRequested | wire.FlagInputEchoOff) {
		t.Fatalf("got %v, want INPUT_REQUESTED|INPUT_ECHO_OFF set", got)
	}
	if got.Has(wire.FlagInputLineMode) {
		t.Fatalf("got %v, did not expect INPUT_LINE_MODE", got)
	}
}

func TestPutcFlushesAtMaxLogEntrySize(t *testing.T) {
	region := make([]byte, wire.ControlBlockSize+wire.FileTransferDescriptorSize+wire.DefaultChunkSize+4096)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	drainVersionLine(t, c)

	long := strings.Repeat("y", wire.MaxLogEntrySize)
	for i := 0; i < len(long); i++ {
		if err := c.Putc(long[i]); err != nil {
			t.Fatalf("Putc: %v", err)
		}
	}
	dst := make([]byte, wire.MaxLogEntrySize+8)
	n, ok, err := c.ReadNext(dst)
	if err != nil || !ok {
		t.Fatalf("ReadNext: ok=%v err=%v", ok, err)
	}
	if n != wire.MaxLogEntrySize {
		t.Fatalf("got %d bytes, want the forced flush at %d", n, wire.MaxLogEntrySize)
	}
}
