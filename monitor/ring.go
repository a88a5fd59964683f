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
// The drain-output step of the loop, in its three read-mode flavours,
// plus the remote BUSY handshake and the wraparound-aware ring reads
// and writes over a backend.Backend. This mirrors the DMA-chunk-then-
// advance-pointer shape of the teacher's receiver ring buffer reader,
// generalized to operate through an arbitrary memory backend instead of
// a PCIe DMA engine.

package monitor

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/choco-technologies/dmlog/wire"
)

// ErrBusyTimeout is returned when the monitor could not observe BUSY
// clear within busyAcquireAttempts reads.
var ErrBusyTimeout = errors.New("monitor: timed out waiting for BUSY")

// busyAcquireAttempts bounds how many times the monitor re-reads the
// flags field hoping to observe BUSY clear before giving up for this
// iteration; there is always a next iteration.
const busyAcquireAttempts = 20

// readFlags reads just the control block's flags field.
func (d *Driver) readFlags(ctx context.Context) (wire.Flags, error) {
	raw, err := d.backend.ReadMemory(ctx, d.ctrlAddr+wire.OffsetFlags, 4)
	if err != nil {
		return 0, err
	}
	return wire.Flags(binary.LittleEndian.Uint32(raw)), nil
}

// acquireBusy performs the monitor's half of the BUSY handshake: read
// flags, verify BUSY clear, and set it. Unlike the firmware side there
// is no local atomic CAS available over a debug backend, so this is
// read-then-write, not a single atomic operation -- acceptable because
// the spec's Non-goals exclude multiple concurrent monitors, the only
// scenario where two writers could race this sequence.
func (d *Driver) acquireBusy(ctx context.Context) error {
	for i := 0; i < busyAcquireAttempts; i++ {
		cur, err := d.readFlags(ctx)
		if err != nil {
			return err
		}
		if cur.Has(wire.FlagBusy) {
			continue
		}
		if err := d.writeFlags(ctx, cur.Set(wire.FlagBusy)); err != nil {
			return err
		}
		return nil
	}
	return ErrBusyTimeout
}

// releaseBusyBestEffort clears BUSY, re-reading flags first so any bits the
// firmware set while the monitor held the lock aren't clobbered.
func (d *Driver) releaseBusyBestEffort(ctx context.Context) {
	cur, err := d.readFlags(ctx)
	if err != nil {
		Tracef(TraceWarn, "release busy: read flags: %v", err)
		return
	}
	if err := d.writeFlags(ctx, cur.Clear(wire.FlagBusy)); err != nil {
		Tracef(TraceWarn, "release busy: clear flag: %v", err)
	}
}

// readRingSpan reads n bytes starting at the ring offset start from the
// ring whose backing bytes live at bufAddr in target memory, splitting
// the read into two backend transactions when it crosses the ring's
// physical end. It returns the bytes and the new offset (start+n mod
// size).
func (d *Driver) readRingSpan(ctx context.Context, bufAddr uint64, size, start uint32, n int) ([]byte, uint32, error) {
	if n <= 0 {
		return nil, start, nil
	}
	if start+uint32(n) <= size {
		data, err := d.backend.ReadMemory(ctx, bufAddr+uint64(start), n)
		if err != nil {
			return nil, start, err
		}
		return data, (start + uint32(n)) % size, nil
	}
	firstLen := size - start
	first, err := d.backend.ReadMemory(ctx, bufAddr+uint64(start), int(firstLen))
	if err != nil {
		return nil, start, err
	}
	second, err := d.backend.ReadMemory(ctx, bufAddr, n-int(firstLen))
	if err != nil {
		return nil, start, err
	}
	return append(first, second...), uint32(n) - firstLen, nil
}

// writeRingSpan writes data starting at the ring offset start into the
// ring backed at bufAddr, splitting into two backend transactions on
// wraparound. It returns the new offset.
func (d *Driver) writeRingSpan(ctx context.Context, bufAddr uint64, size, start uint32, data []byte) (uint32, error) {
	n := len(data)
	if n == 0 {
		return start, nil
	}
	if start+uint32(n) <= size {
		if err := d.backend.WriteMemory(ctx, bufAddr+uint64(start), data); err != nil {
			return start, err
		}
		return (start + uint32(n)) % size, nil
	}
	firstLen := int(size - start)
	if err := d.backend.WriteMemory(ctx, bufAddr+uint64(start), data[:firstLen]); err != nil {
		return start, err
	}
	if err := d.backend.WriteMemory(ctx, bufAddr, data[firstLen:]); err != nil {
		return start, err
	}
	return uint32(n - firstLen), nil
}

// drainOutput services step 2 of the main loop: if the output ring has
// unread bytes, read them (honouring wrap), write them to d.out, and
// push the new out_tail back to the target.
func (d *Driver) drainOutput(ctx context.Context, cb wire.ControlBlock, _ []byte) error {
	switch d.mode {
	case ModeBlocking:
		if err := d.acquireBusy(ctx); err != nil {
			return err
		}
		defer d.releaseBusyBestEffort(ctx)
		fresh, _, err := d.readControlBlock(ctx)
		if err != nil {
			return err
		}
		return d.drainRange(ctx, fresh, 0)
	case ModeSnapshot:
		return d.drainOutputSnapshot(ctx, cb)
	default:
		return d.drainRange(ctx, cb, liveReadBatch)
	}
}

// drainRange reads at most maxBytes unread output bytes (or every
// unread byte, if maxBytes is 0) directly from the target ring, without
// fetching the whole ring first.
func (d *Driver) drainRange(ctx context.Context, cb wire.ControlBlock, maxBytes int) error {
	used := int(wire.Used(cb.OutHead, cb.OutTail, cb.OutSize))
	n := used
	if maxBytes > 0 && n > maxBytes {
		n = maxBytes
	}
	if n <= 0 {
		return nil
	}
	data, newTail, err := d.readRingSpan(ctx, d.ctrlAddr+cb.OutBuf, cb.OutSize, cb.OutTail, n)
	if err != nil {
		return err
	}
	if _, err := d.out.Write(data); err != nil {
		return err
	}
	d.bytesOutSeen += uint64(len(data))
	return d.writeUint32Field(ctx, wire.OffsetOutTail, newTail)
}

// drainOutputSnapshot reads the output ring's entire backing bytes in a
// single backend transaction and services every pending record from
// the local copy, per ModeSnapshot's design: fewer, larger target reads
// at the cost of only ever seeing flag state as fresh as the last
// snapshot.
func (d *Driver) drainOutputSnapshot(ctx context.Context, cb wire.ControlBlock) error {
	if cb.OutSize == 0 {
		return nil
	}
	full, err := d.backend.ReadMemory(ctx, d.ctrlAddr+cb.OutBuf, int(cb.OutSize))
	if err != nil {
		return err
	}
	ring := &wire.Ring{Data: full, Head: cb.OutHead, Tail: cb.OutTail}
	used := int(ring.Used())
	if used == 0 {
		return nil
	}
	dst := make([]byte, used)
	n := ring.ReadBytes(dst, used)
	if n == 0 {
		return nil
	}
	if _, err := d.out.Write(dst[:n]); err != nil {
		return err
	}
	d.bytesOutSeen += uint64(n)
	newTail := (cb.OutTail + uint32(n)) % cb.OutSize
	return d.writeUint32Field(ctx, wire.OffsetOutTail, newTail)
}
