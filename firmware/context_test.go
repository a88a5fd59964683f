package firmware

import (
	"testing"

	"github.com/choco-technologies/dmlog/wire"
)

func TestCreateRejectsTooSmallRegion(t *testing.T) {
	region := make([]byte, 8)
	if _, err := Create(region); err != ErrRegionTooSmall {
		t.Fatalf("got %v, want ErrRegionTooSmall", err)
	}
}

func TestCreateValidatesAndSplitsRings(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region, WithSplitPercent(50))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !c.IsValid() {
		t.Fatalf("expected context to validate immediately after Create")
	}
	if c.outLen == 0 || c.inLen == 0 {
		t.Fatalf("expected both rings non-empty, got out=%d in=%d", c.outLen, c.inLen)
	}
	// A 50/50 split on equally-sized leftover bytes should produce rings
	// within one byte of each other.
	diff := int(c.outLen) - int(c.inLen)
	if diff < -1 || diff > 1 {
		t.Fatalf("expected near-even split, got out=%d in=%d", c.outLen, c.inLen)
	}
}

func TestCreateWritesVersionLine(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dst := make([]byte, 64)
	n, ok, err := c.ReadNext(dst)
	if err != nil {
		t.Fatalf("ReadNext: %v", err)
	}
	if !ok {
		t.Fatalf("expected a version line to be available right after Create")
	}
	if string(dst[:n]) != version {
		t.Fatalf("got %q, want %q", dst[:n], version)
	}
}

func TestSplitPercentClamped(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region, WithSplitPercent(0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.outLen == 0 {
		t.Fatalf("expected split percent to clamp to at least 1")
	}

	c2, err := Create(region, WithSplitPercent(200))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c2.inLen == 0 {
		t.Fatalf("expected split percent to clamp to at most 99")
	}
}

func TestDestroyClearsMagic(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if c.IsValid() {
		t.Fatalf("expected IsValid to be false after Destroy")
	}
	if wire.LoadMagic(region) != 0 {
		t.Fatalf("expected magic zeroed after Destroy")
	}
}

func TestClearPreservesMagicAndResetsIndices(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.Putsn("hello\n"); err != nil {
		t.Fatalf("Putsn: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !c.IsValid() {
		t.Fatalf("expected Clear to preserve magic")
	}
	if wire.LoadOutHead(region) != 0 || wire.LoadOutTail(region) != 0 {
		t.Fatalf("expected out ring indices reset to zero after Clear")
	}
	if wire.LoadInHead(region) != 0 || wire.LoadInTail(region) != 0 {
		t.Fatalf("expected in ring indices reset to zero after Clear")
	}
}

func TestBusyReentrantWithinSameContext(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.lockBusy(); err != nil {
		t.Fatalf("first lockBusy: %v", err)
	}
	if err := c.lockBusy(); err != nil {
		t.Fatalf("nested lockBusy should not block on itself: %v", err)
	}
	c.unlockBusy()
	if !wire.LoadFlags(region).Has(wire.FlagBusy) {
		t.Fatalf("expected BUSY to remain set after releasing only the inner lock")
	}
	c.unlockBusy()
	if wire.LoadFlags(region).Has(wire.FlagBusy) {
		t.Fatalf("expected BUSY cleared after releasing the outer lock")
	}
}

func TestBusyTimeoutWhenHeldExternally(t *testing.T) {
	region := make([]byte, 1024)
	c, err := Create(region)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	cur := wire.LoadFlags(region)
	wire.StoreFlags(region, cur.Set(wire.FlagBusy))

	if err := c.lockBusy(); err != ErrBusyTimeout {
		t.Fatalf("got %v, want ErrBusyTimeout", err)
	}
}
