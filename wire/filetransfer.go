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
// The file-transfer descriptor that rides on the control block via the
// file_transfer pointer field.

package wire

import (
	"bytes"
	"encoding/binary"
)

// FileTransferDescriptorSize is the packed wire size of a
// FileTransferDescriptor.
const FileTransferDescriptorSize = (MaxHostPathLen + 1) + 8 + 4 + 4 + 4 + 4 + 4

const (
	ftOffHostPath   = 0
	ftOffTargetBuf  = ftOffHostPath + MaxHostPathLen + 1
	ftOffChunkSize  = ftOffTargetBuf + 8
	ftOffTotalSize  = ftOffChunkSize + 4
	ftOffOffset     = ftOffTotalSize + 4
	ftOffChunkNum   = ftOffOffset + 4
	ftOffStatus     = ftOffChunkNum + 4
)

// FileTransferDescriptor is the out-of-band structure a file transfer
// publishes into target RAM; the control block's file_transfer field
// points at one of these for the lifetime of a transfer.
type FileTransferDescriptor struct {
	// HostPath is the bounded, null-terminated path on the host
	// filesystem (max MaxHostPathLen bytes, including the terminator).
	HostPath string
	// TargetBuf is the chunk buffer's offset from the control block's
	// base address, the same convention ControlBlock.OutBuf uses.
	TargetBuf uint64
	// ChunkSize is the size in bytes of the current chunk.
	ChunkSize uint32
	// TotalSize is the total size of the file being transferred.
	TotalSize uint32
	// Offset is the current byte offset within the file.
	Offset uint32
	// ChunkNumber is the 0-based index of the current chunk, used by
	// the receive side to detect out-of-order chunk delivery.
	ChunkNumber uint32
	// Status is a signed error code; 0 means no error.
	Status int32
}

// Encode marshals d into buf, which must be at least
// FileTransferDescriptorSize bytes.
func (d *FileTransferDescriptor) Encode(buf []byte) error {
	if len(buf) < FileTransferDescriptorSize {
		return ErrShortBuffer
	}
	if len(d.HostPath) > MaxHostPathLen-1 {
		return errTooLongHostPath
	}
	for i := range buf[ftOffHostPath : ftOffHostPath+MaxHostPathLen+1] {
		buf[ftOffHostPath+i] = 0
	}
	copy(buf[ftOffHostPath:], d.HostPath)
	binary.LittleEndian.PutUint64(buf[ftOffTargetBuf:], d.TargetBuf)
	binary.LittleEndian.PutUint32(buf[ftOffChunkSize:], d.ChunkSize)
	binary.LittleEndian.PutUint32(buf[ftOffTotalSize:], d.TotalSize)
	binary.LittleEndian.PutUint32(buf[ftOffOffset:], d.Offset)
	binary.LittleEndian.PutUint32(buf[ftOffChunkNum:], d.ChunkNumber)
	binary.LittleEndian.PutUint32(buf[ftOffStatus:], uint32(d.Status))
	return nil
}

// DecodeFileTransferDescriptor unmarshals a FileTransferDescriptor from
// buf, which must be at least FileTransferDescriptorSize bytes.
func DecodeFileTransferDescriptor(buf []byte) (FileTransferDescriptor, error) {
	var d FileTransferDescriptor
	if len(buf) < FileTransferDescriptorSize {
		return d, ErrShortBuffer
	}
	raw := buf[ftOffHostPath : ftOffHostPath+MaxHostPathLen+1]
	if nul := bytes.IndexByte(raw, 0); nul >= 0 {
		d.HostPath = string(raw[:nul])
	} else {
		d.HostPath = string(raw)
	}
	d.TargetBuf = binary.LittleEndian.Uint64(buf[ftOffTargetBuf:])
	d.ChunkSize = binary.LittleEndian.Uint32(buf[ftOffChunkSize:])
	d.TotalSize = binary.LittleEndian.Uint32(buf[ftOffTotalSize:])
	d.Offset = binary.LittleEndian.Uint32(buf[ftOffOffset:])
	d.ChunkNumber = binary.LittleEndian.Uint32(buf[ftOffChunkNum:])
	d.Status = int32(binary.LittleEndian.Uint32(buf[ftOffStatus:]))
	return d, nil
}

var errTooLongHostPath = &hostPathError{}

type hostPathError struct{}

func (*hostPathError) Error() string {
	return "wire: host path exceeds MaxHostPathLen"
}
