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
// SendFile and RecvFile, the firmware side of the chunked file-transfer
// handshake. firmwarePath is opened directly by this process; hostPath
// is never opened here, it is only carried in the file-transfer
// descriptor for the monitor, which owns the host filesystem, to act
// on.

package firmware

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/choco-technologies/dmlog/wire"
)

// ErrFileTransferTimeout is returned when the monitor does not service a
// file-transfer chunk request within the relevant timeout.
var ErrFileTransferTimeout = errors.New("firmware: file transfer timed out")

// ErrChunkOutOfOrder is returned by RecvFile when the monitor delivers a
// chunk whose number does not match the next expected one.
var ErrChunkOutOfOrder = errors.New("firmware: file-recv chunk out of order")

// ErrChunkTooLarge is returned when a descriptor claims a chunk larger
// than the context's chunk buffer, which would otherwise overrun region
// on read.
var ErrChunkTooLarge = errors.New("firmware: chunk size exceeds chunk buffer")

// waitForFlagClear spins until flag is no longer set in region's flags
// field or maxIter spins have elapsed.
func waitForFlagClear(region []byte, flag wire.Flags, maxIter int) error {
	for i := 0; i < maxIter; i++ {
		if !wire.LoadFlags(region).Has(flag) {
			return nil
		}
	}
	return ErrFileTransferTimeout
}

// chunkBuf returns the live view of the context's file-transfer chunk
// buffer, a slice of region so the monitor can reach the same bytes
// through backend.Backend.
func (c *Context) chunkBuf() []byte {
	return c.region[c.chunkOff : c.chunkOff+c.chunkLen]
}

func (c *Context) descriptorBuf() []byte {
	return c.region[c.ftOff : c.ftOff+wire.FileTransferDescriptorSize]
}

// publishDescriptor acquires BUSY, encodes desc into the descriptor
// region and sets flag in the control block's flags field.
func (c *Context) publishDescriptor(desc wire.FileTransferDescriptor, flag wire.Flags) error {
	if err := c.lockBusy(); err != nil {
		return err
	}
	defer c.unlockBusy()
	if err := desc.Encode(c.descriptorBuf()); err != nil {
		return err
	}
	cur := wire.LoadFlags(c.region)
	wire.StoreFlags(c.region, cur.Set(flag))
	return nil
}

// SendFile streams firmwarePath, a file local to this process, to the
// monitor in chunks of at most the context's chunk buffer size. hostPath
// is never opened here; it travels only as a string in the file-transfer
// descriptor, for the monitor to create or truncate on the host side.
// The final chunk of a transfer always has ChunkSize == 0, the sentinel
// the monitor uses to know the file is complete.
func (c *Context) SendFile(firmwarePath, hostPath string) error {
	if !c.IsValid() {
		return ErrInvalidContext
	}
	f, err := os.Open(firmwarePath)
	if err != nil {
		return fmt.Errorf("firmware: open %s: %w", firmwarePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("firmware: stat %s: %w", firmwarePath, err)
	}
	totalSize := uint32(info.Size())

	if err := c.lockBusy(); err != nil {
		return err
	}
	wire.StoreFileTransfer(c.region, uint64(c.ftOff))
	c.unlockBusy()

	buf := make([]byte, c.chunkLen)
	var offset, chunkNum uint32
	for {
		n, rerr := f.Read(buf)
		if rerr != nil && rerr != io.EOF {
			c.abortFileTransfer()
			return fmt.Errorf("firmware: read %s: %w", firmwarePath, rerr)
		}
		copy(c.chunkBuf(), buf[:n])

		desc := wire.FileTransferDescriptor{
			HostPath:    hostPath,
			TargetBuf:   uint64(c.chunkOff),
			ChunkSize:   uint32(n),
			TotalSize:   totalSize,
			Offset:      offset,
			ChunkNumber: chunkNum,
		}
		if err := c.publishDescriptor(desc, wire.FlagFileSendReq); err != nil {
			c.abortFileTransfer()
			return err
		}
		if err := waitForFlagClear(c.region, wire.FlagFileSendReq, wire.FileSendTimeoutIterations); err != nil {
			c.abortFileTransfer()
			return err
		}
		got, _ := wire.DecodeFileTransferDescriptor(c.descriptorBuf())
		if got.Status != 0 {
			c.abortFileTransfer()
			return fmt.Errorf("firmware: monitor reported file-send error: status %d", got.Status)
		}

		offset += uint32(n)
		chunkNum++
		if rerr == io.EOF {
			break
		}
	}

	_ = c.lockBusy()
	wire.StoreFileTransfer(c.region, 0)
	c.unlockBusy()
	return nil
}

// RecvFile requests firmwarePath, a file local to this process, be
// filled in from hostPath on the monitor's host filesystem. hostPath is
// never opened here; it travels only as a string in the file-transfer
// descriptor. Each round trip requests one chunk of at most the
// context's chunk buffer size; the monitor signals end of file with a
// descriptor carrying ChunkSize == 0.
func (c *Context) RecvFile(firmwarePath, hostPath string) error {
	if !c.IsValid() {
		return ErrInvalidContext
	}
	f, err := os.Create(firmwarePath)
	if err != nil {
		return fmt.Errorf("firmware: create %s: %w", firmwarePath, err)
	}
	defer f.Close()

	if err := c.lockBusy(); err != nil {
		return err
	}
	wire.StoreFileTransfer(c.region, uint64(c.ftOff))
	c.unlockBusy()

	var offset, expectChunk uint32
	for {
		desc := wire.FileTransferDescriptor{
			HostPath:    hostPath,
			TargetBuf:   uint64(c.chunkOff),
			ChunkSize:   c.chunkLen,
			Offset:      offset,
			ChunkNumber: expectChunk,
		}
		if err := c.publishDescriptor(desc, wire.FlagFileRecvReq); err != nil {
			c.abortFileTransfer()
			return err
		}
		if err := waitForFlagClear(c.region, wire.FlagFileRecvReq, wire.FileRecvTimeoutIterations); err != nil {
			c.abortFileTransfer()
			return err
		}

		got, _ := wire.DecodeFileTransferDescriptor(c.descriptorBuf())
		if got.Status != 0 {
			c.abortFileTransfer()
			return fmt.Errorf("firmware: monitor reported file-recv error: status %d", got.Status)
		}
		if got.ChunkNumber != expectChunk {
			c.abortFileTransfer()
			return fmt.Errorf("%w: got %d, want %d", ErrChunkOutOfOrder, got.ChunkNumber, expectChunk)
		}
		if got.ChunkSize > c.chunkLen {
			c.abortFileTransfer()
			return ErrChunkTooLarge
		}
		if got.ChunkSize > 0 {
			if _, err := f.Write(c.chunkBuf()[:got.ChunkSize]); err != nil {
				c.abortFileTransfer()
				return fmt.Errorf("firmware: write %s: %w", firmwarePath, err)
			}
		}

		offset += got.ChunkSize
		expectChunk++
		if got.ChunkSize == 0 {
			break
		}
	}

	_ = c.lockBusy()
	wire.StoreFileTransfer(c.region, 0)
	c.unlockBusy()
	return nil
}

// abortFileTransfer clears the control block's file-transfer pointer and
// request flags after a failed transfer, so a stale descriptor address
// never outlives the call that published it.
func (c *Context) abortFileTransfer() {
	_ = c.lockBusy()
	wire.StoreFileTransfer(c.region, 0)
	cur := wire.LoadFlags(c.region)
	wire.StoreFlags(c.region, cur.Clear(wire.FlagFileSendReq|wire.FlagFileRecvReq))
	c.unlockBusy()
}
