// The MIT License
//
// Copyright (c) 2018-2026 by the dmlog contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//
// Description:
//
// The firmware-side API: the default context singleton, the
// line-buffered log writer, the input reader and the BUSY handshake.

// Package firmware implements the in-target half of the dmlog channel:
// the API application code on the embedded or hosted side calls to
// write log lines, read operator input and exchange files with the
// monitor. A Context is created over a plain []byte region that stands
// in for the slice of target RAM the control block and its two rings
// occupy; the monitor reaches the same bytes indirectly through a
// backend.Backend, so every field either side may touch concurrently
// goes through wire's atomic accessors rather than plain struct fields.
package firmware

import (
	"errors"
	"fmt"
	"sync"

	"github.com/choco-technologies/dmlog/wire"
)

// ErrBusyTimeout is returned when the BUSY lock could not be acquired
// within BusyWaitTimeoutIterations spins.
var ErrBusyTimeout = errors.New("firmware: timed out waiting for BUSY")

// ErrInvalidContext is returned by any operation on a Context whose
// control block does not currently validate.
var ErrInvalidContext = errors.New("firmware: context is not valid")

// ErrRegionTooSmall is returned by Create when region is too small to
// hold a control block, the file-transfer descriptor and a usable pair
// of rings.
var ErrRegionTooSmall = errors.New("firmware: region too small")

// minRingSize is the smallest ring size (in bytes) Create will accept
// for either ring; a ring with fewer usable bytes than this cannot hold
// a single typical log line.
const minRingSize = 16

// Context is one dmlog channel instance bound to a target memory
// region. The zero value is not usable; construct one with Create.
type Context struct {
	mu sync.Mutex // serializes this process's own calls into the region

	// region holds the control block, both rings, the file-transfer
	// descriptor and the file-transfer chunk buffer back to back. The
	// chunk buffer must live inside region, not in a separate Go slice,
	// since the monitor reaches it only through backend.Backend
	// addresses into this same region.
	region    []byte
	outOff    uint32
	outLen    uint32
	inOff     uint32
	inLen     uint32
	ftOff     uint32
	chunkOff  uint32
	chunkLen  uint32

	lockDepth int

	lineBuf []byte
	lineLen int
}

// Option configures Create.
type Option func(*createOptions)

type createOptions struct {
	splitOutputPercent uint32
	chunkBufSize        int
}

// WithSplitPercent overrides the default 80/20 output/input ring split.
// pct is clamped to [1, 99] so neither ring is ever zero-sized.
func WithSplitPercent(pct uint32) Option {
	return func(o *createOptions) {
		if pct < 1 {
			pct = 1
		}
		if pct > 99 {
			pct = 99
		}
		o.splitOutputPercent = pct
	}
}

// WithChunkBuffer sets the size of the file-transfer chunk area that
// Create reserves inside region to len(buf), instead of the default
// wire.DefaultChunkSize bytes. Only the length of buf is used; its own
// bytes are never read or written, since the chunk area must live in
// region where the monitor can reach it.
func WithChunkBuffer(buf []byte) Option {
	return func(o *createOptions) { o.chunkBufSize = len(buf) }
}

// version is the line firmware emits into the output ring immediately
// after a successful Create, so a monitor attaching mid-session always
// has at least one line of context.
const version = "dmlog v1\n"

// Create initializes a dmlog channel over region, which must be large
// enough to hold the control block, the file-transfer descriptor, the
// file-transfer chunk buffer and a usable pair of rings. The
// output/input ring split defaults to wire.DefaultSplitOutputPercent
// and can be overridden with WithSplitPercent; the chunk buffer size
// defaults to wire.DefaultChunkSize and can be overridden with
// WithChunkBuffer. The control block's magic is written last, so a
// reader that observes any other field set cannot yet see a validating
// block.
func Create(region []byte, opts ...Option) (*Context, error) {
	o := createOptions{splitOutputPercent: wire.DefaultSplitOutputPercent, chunkBufSize: wire.DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}

	overhead := wire.ControlBlockSize + wire.FileTransferDescriptorSize + o.chunkBufSize
	if len(region) < overhead+2*minRingSize {
		return nil, ErrRegionTooSmall
	}
	ringBytes := uint32(len(region) - overhead)
	outLen := ringBytes * o.splitOutputPercent / 100
	if outLen < minRingSize {
		outLen = minRingSize
	}
	if ringBytes-outLen < minRingSize {
		outLen = ringBytes - minRingSize
	}
	inLen := ringBytes - outLen

	ftOff := uint32(wire.ControlBlockSize) + outLen + inLen
	ctx := &Context{
		region:   region,
		outOff:   uint32(wire.ControlBlockSize),
		outLen:   outLen,
		inOff:    uint32(wire.ControlBlockSize) + outLen,
		inLen:    inLen,
		ftOff:    ftOff,
		chunkOff: ftOff + uint32(wire.FileTransferDescriptorSize),
		chunkLen: uint32(o.chunkBufSize),
	}

	cb := wire.ControlBlock{
		Flags:        0,
		OutHead:      0,
		OutTail:      0,
		OutSize:      outLen,
		OutBuf:       uint64(ctx.outOff),
		InHead:       0,
		InTail:       0,
		InSize:       inLen,
		InBuf:        uint64(ctx.inOff),
		FileTransfer: 0,
	}
	if err := cb.Encode(ctx.region); err != nil {
		return nil, fmt.Errorf("firmware: encode control block: %w", err)
	}
	// Magic last: a partial view of the region never validates.
	wire.StoreMagic(ctx.region, wire.Magic)

	vring := ctx.outRing()
	vring.PushBytesDropHead([]byte(version))
	wire.StoreOutHead(ctx.region, vring.Head)
	wire.StoreOutTail(ctx.region, vring.Tail)

	return ctx, nil
}

// Destroy acquires BUSY, zeros both rings and clears the magic so the
// block no longer validates. It does not release the backing region.
func (c *Context) Destroy() error {
	if err := c.lockBusy(); err != nil {
		return err
	}
	defer c.unlockBusy()

	for i := range c.region[:wire.ControlBlockSize] {
		c.region[i] = 0
	}
	for i := c.outOff; i < c.outOff+c.outLen; i++ {
		c.region[i] = 0
	}
	for i := c.inOff; i < c.inOff+c.inLen; i++ {
		c.region[i] = 0
	}
	wire.StoreMagic(c.region, 0)
	return nil
}

// IsValid reports whether the context's control block still carries the
// expected magic sentinel.
func (c *Context) IsValid() bool {
	return wire.LoadMagic(c.region) == wire.Magic
}

// Clear zeros all ring offsets, clears CLEAR_BUFFER and the
// mode/request/file flag bits and zeros both rings' bytes, leaving the
// channel initialized but empty. Unlike Destroy, the magic is left
// intact.
func (c *Context) Clear() error {
	if err := c.lockBusy(); err != nil {
		return err
	}
	defer c.unlockBusy()

	wire.StoreOutHead(c.region, 0)
	wire.StoreOutTail(c.region, 0)
	wire.StoreInHead(c.region, 0)
	wire.StoreInTail(c.region, 0)
	cur := wire.LoadFlags(c.region)
	wire.StoreFlags(c.region, cur&^(wire.FlagClearBuffer|wire.FlagInputRequested|wire.FlagInputAvailable|
		wire.FlagInputEchoOff|wire.FlagInputLineMode|wire.FlagFileSendReq|wire.FlagFileRecvReq))
	for i := c.outOff; i < c.outOff+c.outLen; i++ {
		c.region[i] = 0
	}
	for i := c.inOff; i < c.inOff+c.inLen; i++ {
		c.region[i] = 0
	}
	c.lineLen = 0
	return nil
}

// outRing returns a wire.Ring view over the output ring's current
// head/tail, backed directly by the live region bytes.
func (c *Context) outRing() *wire.Ring {
	return &wire.Ring{
		Data: c.region[c.outOff : c.outOff+c.outLen],
		Head: wire.LoadOutHead(c.region),
		Tail: wire.LoadOutTail(c.region),
	}
}

// inRing returns a wire.Ring view over the input ring's current
// head/tail, backed directly by the live region bytes.
func (c *Context) inRing() *wire.Ring {
	return &wire.Ring{
		Data: c.region[c.inOff : c.inOff+c.inLen],
		Head: wire.LoadInHead(c.region),
		Tail: wire.LoadInTail(c.region),
	}
}

// lockBusy acquires the BUSY token, spinning up to
// wire.BusyWaitTimeoutIterations times. Nested calls from the same
// Context (re-entrant within one call chain) only increment a local
// depth counter after the first acquire.
func (c *Context) lockBusy() error {
	c.mu.Lock()
	if c.lockDepth > 0 {
		c.lockDepth++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	for i := 0; i < wire.BusyWaitTimeoutIterations; i++ {
		cur := wire.LoadFlags(c.region)
		if cur.Has(wire.FlagBusy) {
			continue
		}
		if wire.CASFlags(c.region, cur, cur.Set(wire.FlagBusy)) {
			c.mu.Lock()
			c.lockDepth = 1
			c.mu.Unlock()
			return nil
		}
	}
	return ErrBusyTimeout
}

// unlockBusy releases one level of the re-entrant BUSY lock, clearing
// the flag bit in the control block once the depth returns to zero.
func (c *Context) unlockBusy() {
	c.mu.Lock()
	c.lockDepth--
	depth := c.lockDepth
	c.mu.Unlock()
	if depth > 0 {
		return
	}
	for {
		cur := wire.LoadFlags(c.region)
		if wire.CASFlags(c.region, cur, cur.Clear(wire.FlagBusy)) {
			return
		}
	}
}
