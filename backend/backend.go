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
// The backend-agnostic memory access capability the monitor talks to.

// Package backend defines the narrow memory-access capability the
// monitor uses to reach target RAM through a debug probe, independent
// of the probe's wire protocol. Concrete implementations live in the
// backend/telnet and backend/gdbremote subpackages.
package backend

import "context"

// Backend is the capability set a debug probe connection exposes to the
// monitor: connect, disconnect, and atomic, bounded-size reads and
// writes of arbitrary byte ranges in target memory. Addresses are
// widened uniformly to 64 bits here. backend/telnet formats the full
// address into its mdw/mww commands and does not check that it fits in
// 32 bits.
type Backend interface {
	// Connect establishes the session. It must be called before any
	// other method.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. It is safe to call on an
	// already-disconnected Backend.
	Disconnect(ctx context.Context) error

	// ReadMemory reads length bytes starting at addr. Implementations
	// may split large reads into several probe transactions internally,
	// but the caller sees one logical operation.
	ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error)

	// WriteMemory writes buf starting at addr.
	WriteMemory(ctx context.Context, addr uint64, buf []byte) error
}
