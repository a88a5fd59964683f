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
// Steps 4 and 5 of the main loop: the monitor's half of the chunked
// file-transfer handshake, mirroring firmware.Context's SendFile and
// RecvFile from the other side of the descriptor. Host files are held
// open across loop iterations (os.Create / os.Open) and written or read
// one chunk at a time.

package monitor

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/choco-technologies/dmlog/wire"
)

// fileSendState tracks the monitor's open destination file across the
// many loop iterations one FILE_SEND_REQ transfer spans.
type fileSendState struct {
	open      bool
	hostPath  string
	f         *os.File
	nextChunk uint32
	bytesSeen uint32
}

// fileRecvState tracks the monitor's open source file across the many
// loop iterations one FILE_RECV_REQ transfer spans.
type fileRecvState struct {
	open      bool
	hostPath  string
	f         *os.File
	nextChunk uint32
	eof       bool
}

func (s *fileSendState) reset() {
	if s.f != nil {
		s.f.Close()
	}
	*s = fileSendState{}
}

func (s *fileRecvState) reset() {
	if s.f != nil {
		s.f.Close()
	}
	*s = fileRecvState{}
}

// readDescriptor fetches and decodes the file-transfer descriptor at
// cb.FileTransfer.
func (d *Driver) readDescriptor(ctx context.Context, cb wire.ControlBlock) (wire.FileTransferDescriptor, error) {
	raw, err := d.backend.ReadMemory(ctx, d.ctrlAddr+cb.FileTransfer, wire.FileTransferDescriptorSize)
	if err != nil {
		return wire.FileTransferDescriptor{}, err
	}
	return wire.DecodeFileTransferDescriptor(raw)
}

// writeDescriptor re-encodes desc and writes it back to cb.FileTransfer.
func (d *Driver) writeDescriptor(ctx context.Context, cb wire.ControlBlock, desc wire.FileTransferDescriptor) error {
	buf := make([]byte, wire.FileTransferDescriptorSize)
	if err := desc.Encode(buf); err != nil {
		return err
	}
	return d.backend.WriteMemory(ctx, d.ctrlAddr+cb.FileTransfer, buf)
}

// clearRequest drops one file-transfer request flag once the monitor
// has serviced the chunk it describes.
func (d *Driver) clearRequest(ctx context.Context, flag wire.Flags) error {
	cur, err := d.readFlags(ctx)
	if err != nil {
		return err
	}
	return d.writeFlags(ctx, cur.Clear(flag))
}

// serviceFileSend handles one FILE_SEND_REQ chunk: firmware has
// already copied bytes into its chunk buffer and published a
// descriptor describing them; the monitor reads the chunk from target
// memory and appends it to the host file named in the descriptor's
// HostPath. A ChunkSize of 0 marks the last chunk and closes the file.
func (d *Driver) serviceFileSend(ctx context.Context, cb wire.ControlBlock) error {
	desc, err := d.readDescriptor(ctx, cb)
	if err != nil {
		return err
	}

	if !d.fileSend.open {
		f, ferr := os.Create(desc.HostPath)
		if ferr != nil {
			desc.Status = -1
			_ = d.writeDescriptor(ctx, cb, desc)
			_ = d.clearRequest(ctx, wire.FlagFileSendReq)
			return fmt.Errorf("monitor: create %s: %w", desc.HostPath, ferr)
		}
		d.fileSend = fileSendState{open: true, hostPath: desc.HostPath, f: f}
		if d.evt != nil {
			d.evt.Publish("file_send_started", map[string]interface{}{"host_path": desc.HostPath, "total_size": desc.TotalSize})
		}
	}

	if desc.ChunkNumber != d.fileSend.nextChunk {
		d.fileSend.reset()
		if err := d.clearRequest(ctx, wire.FlagFileSendReq); err != nil {
			return err
		}
		return fmt.Errorf("monitor: file-send chunk out of order: got %d want %d", desc.ChunkNumber, d.fileSend.nextChunk)
	}

	if desc.ChunkSize > 0 {
		chunk, err := d.backend.ReadMemory(ctx, d.ctrlAddr+desc.TargetBuf, int(desc.ChunkSize))
		if err != nil {
			return err
		}
		if _, err := d.fileSend.f.Write(chunk); err != nil {
			d.fileSend.reset()
			_ = d.clearRequest(ctx, wire.FlagFileSendReq)
			return fmt.Errorf("monitor: write %s: %w", desc.HostPath, err)
		}
		d.fileSend.bytesSeen += desc.ChunkSize
	}
	d.fileSend.nextChunk++

	if desc.ChunkSize == 0 {
		if d.evt != nil {
			d.evt.Publish("file_send_complete", map[string]interface{}{"host_path": desc.HostPath, "bytes": d.fileSend.bytesSeen})
		}
		d.fileSend.reset()
	}

	return d.clearRequest(ctx, wire.FlagFileSendReq)
}

// serviceFileRecv handles one FILE_RECV_REQ chunk request: firmware is
// asking for the next chunk of the host file named in the descriptor's
// HostPath, to be written into the chunk buffer at the descriptor's
// TargetBuf offset. The monitor replies with ChunkSize == 0 once the
// host file is exhausted.
func (d *Driver) serviceFileRecv(ctx context.Context, cb wire.ControlBlock) error {
	desc, err := d.readDescriptor(ctx, cb)
	if err != nil {
		return err
	}

	if !d.fileRecv.open {
		f, ferr := os.Open(desc.HostPath)
		if ferr != nil {
			desc.Status = -1
			desc.ChunkSize = 0
			_ = d.writeDescriptor(ctx, cb, desc)
			_ = d.clearRequest(ctx, wire.FlagFileRecvReq)
			return fmt.Errorf("monitor: open %s: %w", desc.HostPath, ferr)
		}
		d.fileRecv = fileRecvState{open: true, hostPath: desc.HostPath, f: f}
		if d.evt != nil {
			d.evt.Publish("file_recv_started", map[string]interface{}{"host_path": desc.HostPath})
		}
	}

	if desc.ChunkNumber != d.fileRecv.nextChunk {
		d.fileRecv.reset()
		if err := d.clearRequest(ctx, wire.FlagFileRecvReq); err != nil {
			return err
		}
		return fmt.Errorf("monitor: file-recv chunk out of order: got %d want %d", desc.ChunkNumber, d.fileRecv.nextChunk)
	}

	reqLen := desc.ChunkSize
	buf := make([]byte, reqLen)
	var n int
	if !d.fileRecv.eof {
		var rerr error
		n, rerr = io.ReadFull(d.fileRecv.f, buf)
		if rerr == io.ErrUnexpectedEOF || rerr == io.EOF {
			d.fileRecv.eof = true
		} else if rerr != nil {
			d.fileRecv.reset()
			_ = d.clearRequest(ctx, wire.FlagFileRecvReq)
			return fmt.Errorf("monitor: read %s: %w", desc.HostPath, rerr)
		}
	}

	if n > 0 {
		if err := d.backend.WriteMemory(ctx, d.ctrlAddr+desc.TargetBuf, buf[:n]); err != nil {
			return err
		}
	}

	desc.ChunkSize = uint32(n)
	desc.Status = 0
	if err := d.writeDescriptor(ctx, cb, desc); err != nil {
		return err
	}
	d.fileRecv.nextChunk++

	if n == 0 {
		if d.evt != nil {
			d.evt.Publish("file_recv_complete", map[string]interface{}{"host_path": desc.HostPath})
		}
		d.fileRecv.reset()
	}

	return d.clearRequest(ctx, wire.FlagFileRecvReq)
}
