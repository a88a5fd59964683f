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
// Global wire-format definitions: the control block magic, flag bits and
// the size constants shared between the firmware and monitor sides.

// Package wire implements the shared-memory wire format that firmware and
// monitor both speak: the control block layout, the flag bits, the two
// byte ring buffers and the file-transfer descriptor. Everything in this
// package operates on flat []byte regions and fixed offsets rather than
// Go structs that rely on in-memory layout, because the layout is a
// contract with a process on the other side of a debug probe, not a
// Go-to-Go value.
package wire

const (
	// Magic is the fixed sentinel value ("DMLO") that marks an
	// initialized control block.
	Magic uint32 = 0x444D4C4F

	// DefaultChunkSize is the default file-transfer chunk size in bytes.
	DefaultChunkSize = 512

	// MaxHostPathLen is the maximum host-path string length, including
	// the null terminator.
	MaxHostPathLen = 255

	// MaxLogEntrySize bounds the size of a single firmware-side
	// line-accumulator entry before it is force-flushed.
	MaxLogEntrySize = 500

	// DefaultSplitOutputPercent is the default percentage of a newly
	// created region handed to the output ring, the remainder going to
	// the input ring.
	DefaultSplitOutputPercent = 80

	// FileSendTimeoutIterations bounds how many spin iterations the
	// firmware waits for the monitor to acknowledge a FILE_SEND_REQ
	// chunk before aborting the transfer.
	FileSendTimeoutIterations = 1_000_000

	// FileRecvTimeoutIterations bounds how many spin iterations the
	// firmware waits for the monitor to service a FILE_RECV_REQ chunk
	// before aborting the transfer.
	FileRecvTimeoutIterations = 10_000_000

	// BusyWaitTimeoutIterations bounds how many spin iterations the
	// firmware waits for the BUSY flag to clear before giving up.
	BusyWaitTimeoutIterations = 10_000
)

// Flags is the control block's bit field of independently settable
// status/command bits.
type Flags uint32

const (
	// FlagClearBuffer is set by the monitor to request that firmware
	// clear both rings; firmware.Context.Clear clears this bit along with
	// the rings.
	FlagClearBuffer Flags = 0x01
	// FlagBusy is the mutual-exclusion token held by whichever side is
	// currently mutating the control block.
	FlagBusy Flags = 0x02
	// FlagInputAvailable is set by the monitor once it has placed new
	// bytes into the input ring.
	FlagInputAvailable Flags = 0x04
	// FlagInputRequested is set by firmware while it waits on input.
	FlagInputRequested Flags = 0x08
	// FlagInputEchoOff accompanies FlagInputRequested to tell the
	// monitor to suppress local echo of what it feeds in.
	FlagInputEchoOff Flags = 0x10
	// FlagInputLineMode accompanies FlagInputRequested to request
	// line-buffered (vs. character-at-a-time) input.
	FlagInputLineMode Flags = 0x20
	// FlagFileSendReq is set by firmware once a file chunk is ready for
	// the monitor to read.
	FlagFileSendReq Flags = 0x40
	// FlagFileRecvReq is set by firmware to request the next file
	// chunk from the monitor.
	FlagFileRecvReq Flags = 0x80
)

// inputRequestMask covers the bits input_request touches besides
// FlagInputRequested itself.
const inputRequestMask = FlagInputEchoOff | FlagInputLineMode

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Set returns f with mask's bits set.
func (f Flags) Set(mask Flags) Flags { return f | mask }

// Clear returns f with mask's bits cleared.
func (f Flags) Clear(mask Flags) Flags { return f &^ mask }

// String renders the set bits for trace logging.
func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagClearBuffer, "CLEAR_BUFFER"},
		{FlagBusy, "BUSY"},
		{FlagInputAvailable, "INPUT_AVAILABLE"},
		{FlagInputRequested, "INPUT_REQUESTED"},
		{FlagInputEchoOff, "INPUT_ECHO_OFF"},
		{FlagInputLineMode, "INPUT_LINE_MODE"},
		{FlagFileSendReq, "FILE_SEND_REQ"},
		{FlagFileRecvReq, "FILE_RECV_REQ"},
	}
	out := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}
