package wire

import (
	"sync"
	"testing"
)

func TestAtomicFlagsRoundTrip(t *testing.T) {
	buf := make([]byte, ControlBlockSize)
	StoreFlags(buf, FlagBusy|FlagInputRequested)
	if got := LoadFlags(buf); got != FlagBusy|FlagInputRequested {
		t.Fatalf("got %v, want BUSY|INPUT_REQUESTED", got)
	}
}

func TestCASFlagsAcquireRelease(t *testing.T) {
	buf := make([]byte, ControlBlockSize)
	if !CASFlags(buf, 0, FlagBusy) {
		t.Fatalf("expected uncontended CAS to succeed")
	}
	if CASFlags(buf, 0, FlagBusy) {
		t.Fatalf("expected second CAS against a stale old value to fail")
	}
	if !CASFlags(buf, FlagBusy, 0) {
		t.Fatalf("expected release CAS to succeed")
	}
}

func TestAtomicRingIndicesConcurrent(t *testing.T) {
	buf := make([]byte, ControlBlockSize)
	var wg sync.WaitGroup
	for i := uint32(1); i <= 100; i++ {
		wg.Add(1)
		go func(v uint32) {
			defer wg.Done()
			StoreOutHead(buf, v)
			_ = LoadOutHead(buf)
		}(i)
	}
	wg.Wait()
	// No assertion on the final value's identity, only that concurrent
	// access under the race detector is well defined.
	_ = LoadOutHead(buf)
}
