package monitor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/choco-technologies/dmlog/backend/fake"
	"github.com/choco-technologies/dmlog/firmware"
	"github.com/choco-technologies/dmlog/wire"
)

const testBase = 0x1000

// newTestDriver wires a firmware.Context and a Driver against the same
// backing bytes via a fake.Memory backend, the same pattern firmware's
// own tests use to simulate the monitor's half of a handshake inline.
func newTestDriver(t *testing.T, region []byte, out *bytes.Buffer, opts ...Option) (*firmware.Context, *Driver) {
	t.Helper()
	c, err := firmware.Create(region)
	if err != nil {
		t.Fatalf("firmware.Create: %v", err)
	}
	mem := &fake.Memory{Base: testBase, Data: region}
	if err := mem.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	allOpts := append([]Option{WithOutput(out)}, opts...)
	d := New(mem, testBase, allOpts...)
	return c, d
}

func TestDrainOutputLive(t *testing.T) {
	region := make([]byte, 1024)
	var out bytes.Buffer
	c, d := newTestDriver(t, region, &out)
	ctx := context.Background()

	if err := c.Puts("hello world\n"); err != nil {
		t.Fatalf("Puts: %v", err)
	}

	d.runOnce(ctx)

	got := out.String()
	if !strings.Contains(got, "hello world") {
		t.Fatalf("got %q, want it to contain %q", got, "hello world")
	}
}

func TestDrainOutputBlockingMode(t *testing.T) {
	region := make([]byte, 1024)
	var out bytes.Buffer
	c, d := newTestDriver(t, region, &out, WithMode(ModeBlocking))
	ctx := context.Background()

	if err := c.Puts("blocking mode line\n"); err != nil {
		t.Fatalf("Puts: %v", err)
	}
	d.runOnce(ctx)

	if !strings.Contains(out.String(), "blocking mode line") {
		t.Fatalf("got %q, missing expected line", out.String())
	}
}

func TestDrainOutputSnapshotMode(t *testing.T) {
	region := make([]byte, 1024)
	var out bytes.Buffer
	c, d := newTestDriver(t, region, &out, WithMode(ModeSnapshot))
	ctx := context.Background()

	if err := c.Puts("snapshot mode line\n"); err != nil {
		t.Fatalf("Puts: %v", err)
	}
	d.runOnce(ctx)

	if !strings.Contains(out.String(), "snapshot mode line") {
		t.Fatalf("got %q, missing expected line", out.String())
	}
}

func TestOverflowEvictsOldestBytes(t *testing.T) {
	// A small chunk buffer and a lopsided split force a tiny output
	// ring, so writing more than its capacity exercises the drop-head
	// overrun policy: only the tail end of what was written survives to
	// be drained.
	region := make([]byte, 420)
	var out bytes.Buffer
	fc, err := firmware.Create(region, firmware.WithChunkBuffer(make([]byte, 8)), firmware.WithSplitPercent(40))
	if err != nil {
		t.Fatalf("firmware.Create: %v", err)
	}
	mem := &fake.Memory{Base: testBase, Data: region}
	if err := mem.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d := New(mem, testBase, WithOutput(&out))
	ctx := context.Background()

	// Drain the version line first so it doesn't confuse the assertion.
	d.runOnce(ctx)
	out.Reset()

	long := strings.Repeat("x", 200) + "\n"
	if err := fc.Puts(long); err != nil {
		t.Fatalf("Puts: %v", err)
	}
	d.runOnce(ctx)

	if out.Len() == 0 {
		t.Fatalf("expected some surviving output after overflow")
	}
	if out.Len() >= len(long) {
		t.Fatalf("expected overflow to have evicted some bytes, got %d of %d", out.Len(), len(long))
	}
	if !strings.HasSuffix(out.String(), "\n") {
		t.Fatalf("expected the tail of the line (ending in newline) to survive, got %q", out.String())
	}
}

func TestInputRequestRoundTrip(t *testing.T) {
	region := make([]byte, 1024)
	var out bytes.Buffer
	in := NewFileInput(strings.NewReader("operator reply\n"))
	c, d := newTestDriver(t, region, &out, WithInput(in))
	ctx := context.Background()

	if err := c.InputRequest(wire.FlagInputLineMode); err != nil {
		t.Fatalf("InputRequest: %v", err)
	}

	// The monitor may need more than one iteration if the line doesn't
	// fit in one ring write, but a 1024-byte region comfortably fits a
	// short reply in a single pass.
	d.runOnce(ctx)

	if c.InputAvailable() {
		dst := make([]byte, 64)
		n, ok, err := c.InputGets(dst)
		if err != nil {
			t.Fatalf("InputGets: %v", err)
		}
		if !ok {
			t.Fatalf("expected ok to report characters were read")
		}
		if got := string(dst[:n]); got != "operator reply\n" {
			t.Fatalf("got %q, want %q", got, "operator reply\n")
		}
	} else {
		t.Fatalf("expected input to be available after the monitor serviced the request")
	}
}

func TestRequestClearRoundTrip(t *testing.T) {
	region := make([]byte, 1024)
	var out bytes.Buffer
	c, d := newTestDriver(t, region, &out)
	ctx := context.Background()

	if err := c.Puts("line before clear\n"); err != nil {
		t.Fatalf("Puts: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.RequestClear(ctx) }()

	// Simulate firmware's side of the CLEAR_BUFFER handshake: poll for
	// the request and service it via Context.Clear.
	for i := 0; i < 1000; i++ {
		if wire.LoadFlags(region).Has(wire.FlagClearBuffer) {
			if err := c.Clear(); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			cur := wire.LoadFlags(region)
			wire.StoreFlags(region, cur.Clear(wire.FlagClearBuffer))
			break
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("RequestClear: %v", err)
	}
	if wire.LoadOutHead(region) != wire.LoadOutTail(region) {
		t.Fatalf("expected output ring empty after clear")
	}
}

func TestHandleDesyncOnBadMagic(t *testing.T) {
	region := make([]byte, 1024)
	var out bytes.Buffer
	_, d := newTestDriver(t, region, &out)
	ctx := context.Background()

	wire.StoreMagic(region, 0)

	// Must not panic, and must not record the invalid control block as
	// seen.
	d.runOnce(ctx)

	if d.haveLastCB {
		t.Fatalf("expected haveLastCB to be false after a desync")
	}
}

func TestDesyncRecoversViaClearCycle(t *testing.T) {
	region := make([]byte, 1024)
	var out bytes.Buffer
	c, d := newTestDriver(t, region, &out)
	ctx := context.Background()

	if err := c.Puts("line before desync\n"); err != nil {
		t.Fatalf("Puts: %v", err)
	}
	d.runOnce(ctx)
	if !d.haveLastCB {
		t.Fatalf("expected a valid control block after the first iteration")
	}

	// spec.md §8 item 5: corrupt out_tail past out_size.
	cb, err := wire.DecodeControlBlock(region)
	if err != nil {
		t.Fatalf("DecodeControlBlock: %v", err)
	}
	wire.StoreOutTail(region, cb.OutSize+1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			if wire.LoadFlags(region).Has(wire.FlagClearBuffer) {
				if err := c.Clear(); err != nil {
					return
				}
				cur := wire.LoadFlags(region)
				wire.StoreFlags(region, cur.Clear(wire.FlagClearBuffer))
				return
			}
		}
	}()

	d.runOnce(ctx)
	<-done

	if d.haveLastCB {
		t.Fatalf("expected haveLastCB to stay false across the desync/clear cycle")
	}
	if wire.LoadOutHead(region) != 0 || wire.LoadOutTail(region) != 0 {
		t.Fatalf("expected both ring offsets zeroed after the clear cycle, got head=%d tail=%d",
			wire.LoadOutHead(region), wire.LoadOutTail(region))
	}
	if wire.LoadFlags(region).Has(wire.FlagClearBuffer) {
		t.Fatalf("expected CLEAR_BUFFER to be clear after the cycle completed")
	}
}

func TestFileSendChunking(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fw.log")
	want := []byte("a line of firmware output that spans a couple of chunks")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatal(err)
	}
	hostPath := filepath.Join(dir, "host.log")

	region := make([]byte, 512)
	fc, err := firmware.Create(region, firmware.WithChunkBuffer(make([]byte, 8)))
	if err != nil {
		t.Fatalf("firmware.Create: %v", err)
	}
	var out bytes.Buffer
	mem := &fake.Memory{Base: testBase, Data: region}
	if err := mem.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d := New(mem, testBase, WithOutput(&out))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- fc.SendFile(src, hostPath) }()

	for i := 0; i < 10000; i++ {
		d.runOnce(ctx)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("SendFile: %v", err)
			}
			goto finished
		default:
		}
	}
	t.Fatalf("file send did not complete in time")

finished:
	got, err := os.ReadFile(hostPath)
	if err != nil {
		t.Fatalf("read host file: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFileRecvChunking(t *testing.T) {
	dir := t.TempDir()
	hostPath := filepath.Join(dir, "host.log")
	want := []byte("content the monitor delivers back to firmware in chunks")
	if err := os.WriteFile(hostPath, want, 0o644); err != nil {
		t.Fatal(err)
	}
	dstPath := filepath.Join(dir, "fw.log")

	region := make([]byte, 512)
	fc, err := firmware.Create(region, firmware.WithChunkBuffer(make([]byte, 8)))
	if err != nil {
		t.Fatalf("firmware.Create: %v", err)
	}
	var out bytes.Buffer
	mem := &fake.Memory{Base: testBase, Data: region}
	if err := mem.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d := New(mem, testBase, WithOutput(&out))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- fc.RecvFile(dstPath, hostPath) }()

	for i := 0; i < 10000; i++ {
		d.runOnce(ctx)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("RecvFile: %v", err)
			}
			goto finished
		default:
		}
	}
	t.Fatalf("file recv did not complete in time")

finished:
	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read dst file: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}
