package wire

import "testing"

func TestFileTransferDescriptorRoundTrip(t *testing.T) {
	d := FileTransferDescriptor{
		HostPath:    "/tmp/capture.bin",
		TargetBuf:   0x2000000000004000,
		ChunkSize:   512,
		TotalSize:   4096,
		Offset:      1024,
		ChunkNumber: 2,
		Status:      -5,
	}
	buf := make([]byte, FileTransferDescriptorSize)
	if err := d.Encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeFileTransferDescriptor(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != d {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, d)
	}
}

func TestFileTransferDescriptorRejectsOverlongPath(t *testing.T) {
	long := make([]byte, MaxHostPathLen+10)
	for i := range long {
		long[i] = 'a'
	}
	d := FileTransferDescriptor{HostPath: string(long)}
	buf := make([]byte, FileTransferDescriptorSize)
	if err := d.Encode(buf); err == nil {
		t.Fatalf("expected error for overlong host path")
	}
}
