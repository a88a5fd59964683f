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
// Log output (putc/puts/flush), the loop-back reader and the input
// side (input_available/input_getc/input_gets/input_request).

package firmware

import "github.com/choco-technologies/dmlog/wire"

// Putc appends b to the per-context line accumulator, flushing to the
// output ring on a newline or once the accumulator reaches
// wire.MaxLogEntrySize. It reports an error only if the BUSY lock could
// not be acquired; the lock is taken on every call, flush or not.
func (c *Context) Putc(b byte) error {
	if err := c.lockBusy(); err != nil {
		return err
	}
	defer c.unlockBusy()

	c.lineBuf = append(c.lineBuf[:c.lineLen], b)
	c.lineLen++
	if b == '\n' || c.lineLen >= wire.MaxLogEntrySize {
		c.flushLocked()
	}
	return nil
}

// Puts writes s byte by byte via Putc and guarantees a final flush if s
// did not end in a newline.
func (c *Context) Puts(s string) error {
	return c.Putsn(s)
}

// Putsn writes s byte by byte via Putc and guarantees a final flush if s
// did not end in a newline. It is named to mirror the firmware-side
// bounded-length puts variant; unlike a C puts(3) it performs no
// implicit newline translation.
func (c *Context) Putsn(s string) error {
	for i := 0; i < len(s); i++ {
		if err := c.Putc(s[i]); err != nil {
			return err
		}
	}
	if len(s) == 0 || s[len(s)-1] != '\n' {
		return c.Flush()
	}
	return nil
}

// Flush drains the line accumulator into the output ring using the
// drop-head overrun policy, then clears the accumulator.
func (c *Context) Flush() error {
	if err := c.lockBusy(); err != nil {
		return err
	}
	defer c.unlockBusy()
	c.flushLocked()
	return nil
}

// flushLocked is Flush's body, assumed to run with BUSY already held.
func (c *Context) flushLocked() {
	if c.lineLen == 0 {
		return
	}
	ring := c.outRing()
	ring.PushBytesDropHead(c.lineBuf[:c.lineLen])
	wire.StoreOutHead(c.region, ring.Head)
	wire.StoreOutTail(c.region, ring.Tail)
	c.lineLen = 0
}

// ReadNext drains one newline-terminated (or buffer-limited) record
// from the output ring into dst, returning the number of bytes written
// and whether a record was available. It is intended for the firmware
// to loop back and inspect its own log output, e.g. for a self-test.
// It advances out_tail, the field firmware does not otherwise own,
// which is the same controlled exception the drop-head overrun policy
// relies on: both are firmware-side adjustments to out_tail made only
// while BUSY is held.
func (c *Context) ReadNext(dst []byte) (int, bool, error) {
	if err := c.lockBusy(); err != nil {
		return 0, false, err
	}
	defer c.unlockBusy()

	ring := c.outRing()
	n := 0
	for n < len(dst) {
		b, err := ring.PopByte()
		if err != nil {
			break
		}
		dst[n] = b
		n++
		if b == '\n' {
			break
		}
	}
	wire.StoreOutTail(c.region, ring.Tail)
	return n, n > 0, nil
}

// InputAvailable reports whether the firmware has unread bytes waiting
// in the input ring.
func (c *Context) InputAvailable() bool {
	return wire.LoadInHead(c.region) != wire.LoadInTail(c.region)
}

// InputGetc pops a single byte from the input ring.
func (c *Context) InputGetc() (byte, error) {
	if err := c.lockBusy(); err != nil {
		return 0, err
	}
	defer c.unlockBusy()

	ring := c.inRing()
	b, err := ring.PopByte()
	if err != nil {
		return 0, err
	}
	wire.StoreInTail(c.region, ring.Tail)
	return b, nil
}

// InputGets reads from the input ring into dst until a newline or
// len(dst)-1 bytes have been read, returning the number of bytes
// written at dst[:n] and whether any characters were read. A
// len(dst) <= 1 call reserves no room for a read at all, so it
// reports ok == false, mirroring ReadNext's empty-read report on the
// output side.
func (c *Context) InputGets(dst []byte) (int, bool, error) {
	if len(dst) <= 1 {
		return 0, false, nil
	}
	if err := c.lockBusy(); err != nil {
		return 0, false, err
	}
	defer c.unlockBusy()

	ring := c.inRing()
	max := len(dst) - 1
	n := 0
	for n < max {
		b, err := ring.PopByte()
		if err != nil {
			break
		}
		dst[n] = b
		n++
		if b == '\n' {
			break
		}
	}
	wire.StoreInTail(c.region, ring.Tail)
	return n, n > 0, nil
}

// InputRequest atomically clears the echo/line-mode bits, sets
// INPUT_REQUESTED, and sets whichever of mode's echo/line-mode bits the
// caller passed (mode should be a combination of wire.FlagInputEchoOff
// and wire.FlagInputLineMode; any other bit in mode is ignored).
func (c *Context) InputRequest(mode wire.Flags) error {
	if err := c.lockBusy(); err != nil {
		return err
	}
	defer c.unlockBusy()

	mode &= wire.FlagInputEchoOff | wire.FlagInputLineMode
	for {
		cur := wire.LoadFlags(c.region)
		next := cur.Clear(wire.FlagInputEchoOff | wire.FlagInputLineMode).
			Set(wire.FlagInputRequested | mode)
		if wire.CASFlags(c.region, cur, next) {
			return nil
		}
	}
}
