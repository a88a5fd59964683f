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
// The fixed-offset control block and its little-endian marshaling.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ControlBlockSize is the packed, on-the-wire size of a ControlBlock in
// bytes.
const ControlBlockSize = 4 + 4 + 4 + 4 + 4 + 8 + 4 + 4 + 4 + 8 + 8

// Control block field offsets, in wire order.
const (
	offMagic        = 0
	offFlags        = 4
	offOutHead      = 8
	offOutTail      = 12
	offOutSize      = 16
	offOutBuffer    = 20
	offInHead       = 28
	offInTail       = 32
	offInSize       = 36
	offInBuffer     = 40
	offFileTransfer = 48
)

// Exported aliases of the field offsets above, for callers on the other
// side of a debug backend that need to write a single field directly
// into target memory (at ControlBlockAddr+Offset...) rather than
// re-encoding and rewriting the whole control block.
const (
	OffsetMagic        = offMagic
	OffsetFlags        = offFlags
	OffsetOutHead      = offOutHead
	OffsetOutTail      = offOutTail
	OffsetOutSize      = offOutSize
	OffsetOutBuffer    = offOutBuffer
	OffsetInHead       = offInHead
	OffsetInTail       = offInTail
	OffsetInSize       = offInSize
	OffsetInBuffer     = offInBuffer
	OffsetFileTransfer = offFileTransfer
)

// ControlBlock is the fixed-layout header shared between firmware and
// monitor: magic, flags, ring indices, ring descriptors and the
// file-transfer descriptor pointer.
type ControlBlock struct {
	Magic   uint32
	Flags   Flags
	OutHead uint32
	OutTail uint32
	OutSize uint32
	// OutBuf is the output ring's backing buffer, as an offset from the
	// start of the control block's own region (i.e. from the control
	// block's own target address), not an address in its own right. A
	// reader on the other side of a debug backend adds the control
	// block's base address to reach the ring's bytes.
	OutBuf uint64
	InHead uint32
	InTail uint32
	InSize uint32
	// InBuf is the input ring's backing buffer, offset the same way as
	// OutBuf.
	InBuf uint64

	// FileTransfer is the file-transfer descriptor's offset from the
	// control block's base address, the same convention as OutBuf and
	// InBuf, or 0 if no transfer is in progress.
	FileTransfer uint64
}

var (
	// ErrBadMagic indicates a control block whose magic field does not
	// match Magic.
	ErrBadMagic = errors.New("wire: bad control block magic")
	// ErrCorrupted indicates a control block whose magic is valid but
	// whose ring offsets are out of range.
	ErrCorrupted = errors.New("wire: corrupted control block")
	// ErrShortBuffer indicates a buffer too small to hold the structure
	// being decoded or encoded.
	ErrShortBuffer = errors.New("wire: buffer too short")
)

// Encode marshals cb into buf in wire order. buf must be at least
// ControlBlockSize bytes.
func (cb *ControlBlock) Encode(buf []byte) error {
	if len(buf) < ControlBlockSize {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(buf[offMagic:], cb.Magic)
	binary.LittleEndian.PutUint32(buf[offFlags:], uint32(cb.Flags))
	binary.LittleEndian.PutUint32(buf[offOutHead:], cb.OutHead)
	binary.LittleEndian.PutUint32(buf[offOutTail:], cb.OutTail)
	binary.LittleEndian.PutUint32(buf[offOutSize:], cb.OutSize)
	binary.LittleEndian.PutUint64(buf[offOutBuffer:], cb.OutBuf)
	binary.LittleEndian.PutUint32(buf[offInHead:], cb.InHead)
	binary.LittleEndian.PutUint32(buf[offInTail:], cb.InTail)
	binary.LittleEndian.PutUint32(buf[offInSize:], cb.InSize)
	binary.LittleEndian.PutUint64(buf[offInBuffer:], cb.InBuf)
	binary.LittleEndian.PutUint64(buf[offFileTransfer:], cb.FileTransfer)
	return nil
}

// DecodeControlBlock unmarshals a ControlBlock from buf, which must be at least
// ControlBlockSize bytes.
func DecodeControlBlock(buf []byte) (ControlBlock, error) {
	var cb ControlBlock
	if len(buf) < ControlBlockSize {
		return cb, ErrShortBuffer
	}
	cb.Magic = binary.LittleEndian.Uint32(buf[offMagic:])
	cb.Flags = Flags(binary.LittleEndian.Uint32(buf[offFlags:]))
	cb.OutHead = binary.LittleEndian.Uint32(buf[offOutHead:])
	cb.OutTail = binary.LittleEndian.Uint32(buf[offOutTail:])
	cb.OutSize = binary.LittleEndian.Uint32(buf[offOutSize:])
	cb.OutBuf = binary.LittleEndian.Uint64(buf[offOutBuffer:])
	cb.InHead = binary.LittleEndian.Uint32(buf[offInHead:])
	cb.InTail = binary.LittleEndian.Uint32(buf[offInTail:])
	cb.InSize = binary.LittleEndian.Uint32(buf[offInSize:])
	cb.InBuf = binary.LittleEndian.Uint64(buf[offInBuffer:])
	cb.FileTransfer = binary.LittleEndian.Uint64(buf[offFileTransfer:])
	return cb, nil
}

// Validate checks the invariants that must hold for any control block
// observed mid-session: the magic sentinel and that every ring index is
// within range of its ring's size. A zero magic (uninitialized memory)
// is reported via ErrBadMagic, same as a garbage magic value.
func (cb *ControlBlock) Validate() error {
	if cb.Magic != Magic {
		return fmt.Errorf("%w: got 0x%08x", ErrBadMagic, cb.Magic)
	}
	if cb.OutSize == 0 || cb.OutHead >= cb.OutSize || cb.OutTail >= cb.OutSize {
		return fmt.Errorf("%w: out_head=%d out_tail=%d out_size=%d",
			ErrCorrupted, cb.OutHead, cb.OutTail, cb.OutSize)
	}
	if cb.InSize == 0 || cb.InHead >= cb.InSize || cb.InTail >= cb.InSize {
		return fmt.Errorf("%w: in_head=%d in_tail=%d in_size=%d",
			ErrCorrupted, cb.InHead, cb.InTail, cb.InSize)
	}
	return nil
}
