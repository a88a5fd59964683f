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
// Byte-level ring buffer arithmetic shared by the firmware and monitor
// sides. One slot is always kept unused so that head==tail unambiguously
// means empty.

package wire

import "errors"

// ErrRingFull is returned by PushBytes on the input ring (the monitor's
// write side) when there is not enough free space and the no-overwrite
// policy applies.
var ErrRingFull = errors.New("wire: ring full")

// ErrRingEmpty is returned by PopByte when head == tail.
var ErrRingEmpty = errors.New("wire: ring empty")

// Ring is a view over a single producer/single consumer byte ring: the
// backing bytes plus the current head/tail/size. It does not itself
// decide which side is allowed to mutate head or tail -- that discipline
// is enforced by the firmware and monitor packages via the BUSY flag.
type Ring struct {
	Data []byte
	Head uint32
	Tail uint32
}

// Size returns the ring's capacity in bytes (one slot more than the
// maximum number of bytes it can hold).
func (r *Ring) Size() uint32 { return uint32(len(r.Data)) }

// FreeSpace returns the number of bytes that can be written before the
// ring reports full.
func FreeSpace(head, tail, size uint32) uint32 {
	if size == 0 {
		return 0
	}
	if head >= tail {
		return size - (head - tail) - 1
	}
	return tail - head - 1
}

// Used returns the number of unread bytes currently in the ring.
func Used(head, tail, size uint32) uint32 {
	if size == 0 {
		return 0
	}
	return size - 1 - FreeSpace(head, tail, size)
}

// FreeSpace is the receiver form of the package-level FreeSpace function.
func (r *Ring) FreeSpace() uint32 { return FreeSpace(r.Head, r.Tail, r.Size()) }

// Used is the receiver form of the package-level Used function.
func (r *Ring) Used() uint32 { return Used(r.Head, r.Tail, r.Size()) }

// PushByte writes b at Head and advances Head modulo Size. It reports
// ErrRingFull (without mutating the ring) if doing so would make Head
// equal Tail.
func (r *Ring) PushByte(b byte) error {
	size := r.Size()
	next := (r.Head + 1) % size
	if next == r.Tail {
		return ErrRingFull
	}
	r.Data[r.Head] = b
	r.Head = next
	return nil
}

// PopByte reads the byte at Tail and advances Tail modulo Size. It
// reports ErrRingEmpty if Head == Tail.
func (r *Ring) PopByte() (byte, error) {
	if r.Head == r.Tail {
		return 0, ErrRingEmpty
	}
	b := r.Data[r.Tail]
	r.Tail = (r.Tail + 1) % r.Size()
	return b, nil
}

// PushBytesDropHead appends buf to the ring using the output-ring
// overrun policy: if the ring doesn't have room for a new byte, the
// oldest byte is evicted (one PopByte) to make room, so the write never
// blocks and never fails. This is the policy used for firmware log
// output per the spec's "unbounded log generators never block the
// firmware" requirement.
func (r *Ring) PushBytesDropHead(buf []byte) {
	if r.Size() < 2 {
		// A ring this small holds no bytes at all: every byte would be
		// evicted as soon as it was written.
		return
	}
	for _, b := range buf {
		for r.PushByte(b) == ErrRingFull {
			_, _ = r.PopByte()
		}
	}
}

// PushBytes appends buf to the ring using the input-ring no-overwrite
// policy: on the first byte that doesn't fit, it stops and returns
// ErrRingFull along with the number of bytes actually written. The
// monitor is expected to retry the remainder later.
func (r *Ring) PushBytes(buf []byte) (int, error) {
	for i, b := range buf {
		if err := r.PushByte(b); err != nil {
			return i, err
		}
	}
	return len(buf), nil
}

// ReadBytes copies up to maxlen unread bytes starting at Tail into dst
// (which must have length >= maxlen), honouring wraparound by issuing
// two contiguous copies when the read range crosses the physical end of
// Data. It does not advance Tail -- callers decide when bytes have been
// durably consumed and advance the index themselves. It returns the
// number of bytes copied, which is min(maxlen, Used()).
//
// The wraparound-splitting logic mirrors the same technique used to
// read a repeatedly-replayed trace buffer that may wrap past its
// physical end: split the requested range at the ring's physical
// boundary and copy each half separately.
func (r *Ring) ReadBytes(dst []byte, maxlen int) int {
	n := int(r.Used())
	if maxlen < n {
		n = maxlen
	}
	if n <= 0 {
		return 0
	}
	size := int(r.Size())
	tail := int(r.Tail)
	if tail+n <= size {
		copy(dst[:n], r.Data[tail:tail+n])
		return n
	}
	firstLen := size - tail
	copy(dst[:firstLen], r.Data[tail:size])
	copy(dst[firstLen:n], r.Data[0:n-firstLen])
	return n
}

// WriteBytes writes buf starting at Head, wrapping at the physical end
// of Data, without any overrun policy applied (callers must have
// already confirmed sufficient free space, or intentionally be
// overwriting via the drop-head policy one byte at a time). It advances
// Head by len(buf) modulo Size and returns the new Head.
func (r *Ring) WriteBytes(buf []byte) uint32 {
	size := int(r.Size())
	head := int(r.Head)
	n := len(buf)
	if head+n <= size {
		copy(r.Data[head:head+n], buf)
	} else {
		firstLen := size - head
		copy(r.Data[head:size], buf[:firstLen])
		copy(r.Data[0:n-firstLen], buf[firstLen:])
	}
	r.Head = uint32((head + n) % size)
	return r.Head
}
