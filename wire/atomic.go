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
// Atomic accessors onto a live control block's volatile fields. Both
// the firmware and monitor sides touch the same bytes from different
// goroutines (standing in for the two address spaces of the real
// system), so every field either party may mutate concurrently is
// loaded and stored atomically rather than through ControlBlock's
// plain struct fields.

package wire

import (
	"sync/atomic"
	"unsafe"
)

func fieldPtr(buf []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[off]))
}

func fieldPtr64(buf []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&buf[off]))
}

// LoadMagic atomically reads the magic field of a live control block.
func LoadMagic(buf []byte) uint32 { return atomic.LoadUint32(fieldPtr(buf, offMagic)) }

// StoreMagic atomically writes the magic field of a live control block.
// Create writes it last, after every other field, so a reader never
// observes a partially initialized block that nonetheless validates;
// Destroy clears it first, for the same reason in reverse.
func StoreMagic(buf []byte, v uint32) { atomic.StoreUint32(fieldPtr(buf, offMagic), v) }

// LoadFlags atomically reads the flags field of a live control block.
func LoadFlags(buf []byte) Flags {
	return Flags(atomic.LoadUint32(fieldPtr(buf, offFlags)))
}

// StoreFlags atomically writes the flags field of a live control block.
func StoreFlags(buf []byte, f Flags) {
	atomic.StoreUint32(fieldPtr(buf, offFlags), uint32(f))
}

// CASFlags atomically swaps the flags field from old to new, reporting
// whether the swap took place. Used for the BUSY acquire handshake.
func CASFlags(buf []byte, old, new Flags) bool {
	return atomic.CompareAndSwapUint32(fieldPtr(buf, offFlags), uint32(old), uint32(new))
}

// LoadOutHead atomically reads the output ring's head index.
func LoadOutHead(buf []byte) uint32 { return atomic.LoadUint32(fieldPtr(buf, offOutHead)) }

// StoreOutHead atomically writes the output ring's head index.
func StoreOutHead(buf []byte, v uint32) { atomic.StoreUint32(fieldPtr(buf, offOutHead), v) }

// LoadOutTail atomically reads the output ring's tail index.
func LoadOutTail(buf []byte) uint32 { return atomic.LoadUint32(fieldPtr(buf, offOutTail)) }

// StoreOutTail atomically writes the output ring's tail index.
func StoreOutTail(buf []byte, v uint32) { atomic.StoreUint32(fieldPtr(buf, offOutTail), v) }

// LoadInHead atomically reads the input ring's head index.
func LoadInHead(buf []byte) uint32 { return atomic.LoadUint32(fieldPtr(buf, offInHead)) }

// StoreInHead atomically writes the input ring's head index.
func StoreInHead(buf []byte, v uint32) { atomic.StoreUint32(fieldPtr(buf, offInHead), v) }

// LoadInTail atomically reads the input ring's tail index.
func LoadInTail(buf []byte) uint32 { return atomic.LoadUint32(fieldPtr(buf, offInTail)) }

// StoreInTail atomically writes the input ring's tail index.
func StoreInTail(buf []byte, v uint32) { atomic.StoreUint32(fieldPtr(buf, offInTail), v) }

// LoadFileTransfer atomically reads the control block's file-transfer
// descriptor pointer.
func LoadFileTransfer(buf []byte) uint64 { return atomic.LoadUint64(fieldPtr64(buf, offFileTransfer)) }

// StoreFileTransfer atomically writes the control block's file-transfer
// descriptor pointer. Firmware sets it before raising FILE_SEND_REQ or
// FILE_RECV_REQ and clears it once the transfer completes.
func StoreFileTransfer(buf []byte, v uint64) {
	atomic.StoreUint64(fieldPtr64(buf, offFileTransfer), v)
}
