package firmware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/choco-technologies/dmlog/wire"
)

// serviceSendOnce drains one FILE_SEND_REQ chunk the way a monitor would:
// read the descriptor and chunk bytes, append them to dst, clear the flag.
func serviceSendOnce(t *testing.T, c *Context, dst *[]byte) bool {
	t.Helper()
	for i := 0; i < 1_000_000; i++ {
		if wire.LoadFlags(c.region).Has(wire.FlagFileSendReq) {
			desc, err := wire.DecodeFileTransferDescriptor(c.descriptorBuf())
			if err != nil {
				t.Fatalf("decode descriptor: %v", err)
			}
			*dst = append(*dst, c.chunkBuf()[:desc.ChunkSize]...)
			cur := wire.LoadFlags(c.region)
			wire.StoreFlags(c.region, cur.Clear(wire.FlagFileSendReq))
			return desc.ChunkSize == 0
		}
	}
	return false
}

func TestSendFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fw.log")
	want := []byte("a line of firmware output that spans a couple of chunks of data")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatal(err)
	}

	region := make([]byte, 512)
	c, err := Create(region, WithChunkBuffer(make([]byte, 8)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.SendFile(src, "pc.log")
	}()

	var got []byte
	for {
		if serviceSendOnce(t, c, &got) {
			break
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if wire.LoadFileTransfer(c.region) != 0 {
		t.Fatalf("expected file-transfer pointer cleared after completion")
	}
}

// serviceRecvOnce answers one FILE_RECV_REQ from a source buffer,
// delivering up to len(chunk) bytes per round, the way a monitor would.
func serviceRecvOnce(t *testing.T, c *Context, src []byte, sent *int) bool {
	t.Helper()
	for i := 0; i < 1_000_000; i++ {
		if wire.LoadFlags(c.region).Has(wire.FlagFileRecvReq) {
			desc, err := wire.DecodeFileTransferDescriptor(c.descriptorBuf())
			if err != nil {
				t.Fatalf("decode descriptor: %v", err)
			}
			remaining := src[*sent:]
			n := len(remaining)
			if uint32(n) > desc.ChunkSize {
				n = int(desc.ChunkSize)
			}
			copy(c.chunkBuf(), remaining[:n])
			desc.ChunkSize = uint32(n)
			if err := desc.Encode(c.descriptorBuf()); err != nil {
				t.Fatalf("encode descriptor: %v", err)
			}
			*sent += n
			cur := wire.LoadFlags(c.region)
			wire.StoreFlags(c.region, cur.Clear(wire.FlagFileRecvReq))
			return n == 0
		}
	}
	return false
}

func TestRecvFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "fw-received.bin")
	want := []byte("payload delivered from the host in several small chunks")

	region := make([]byte, 512)
	c, err := Create(region, WithChunkBuffer(make([]byte, 8)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.RecvFile(dst, "pc-source.bin")
	}()

	sent := 0
	for {
		if serviceRecvOnce(t, c, want, &sent) {
			break
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("RecvFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRecvFileChunkOutOfOrderFails(t *testing.T) {
	region := make([]byte, 512)
	c, err := Create(region, WithChunkBuffer(make([]byte, 8)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.RecvFile(filepath.Join(t.TempDir(), "out.bin"), "pc.bin")
	}()

	for i := 0; i < 1_000_000; i++ {
		if wire.LoadFlags(c.region).Has(wire.FlagFileRecvReq) {
			desc, derr := wire.DecodeFileTransferDescriptor(c.descriptorBuf())
			if derr != nil {
				t.Fatalf("decode descriptor: %v", derr)
			}
			desc.ChunkNumber = 7 // firmware expects 0
			desc.ChunkSize = 0
			if eerr := desc.Encode(c.descriptorBuf()); eerr != nil {
				t.Fatalf("encode descriptor: %v", eerr)
			}
			cur := wire.LoadFlags(c.region)
			wire.StoreFlags(c.region, cur.Clear(wire.FlagFileRecvReq))
			break
		}
	}

	if err := <-done; err == nil {
		t.Fatalf("expected an out-of-order chunk error")
	}
}

func TestSendFileTimeoutWhenMonitorNeverResponds(t *testing.T) {
	region := make([]byte, 512)
	c, err := Create(region, WithChunkBuffer(make([]byte, 8)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	src := filepath.Join(t.TempDir(), "fw.log")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.SendFile(src, "pc.log"); err == nil {
		t.Fatalf("expected a timeout error with nobody servicing FILE_SEND_REQ")
	}
}
