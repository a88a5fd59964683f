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
// An in-memory Backend over a plain []byte, standing in for a real
// debug probe in tests that exercise the monitor and firmware sides
// against the same bytes in one process.
package fake

import (
	"context"
	"errors"
	"sync"
)

// Memory is a Backend implementation backed by a plain byte slice
// addressed starting at Base. It lets tests drive monitor.Driver and
// firmware.Context against the same underlying bytes without a real
// debug probe.
type Memory struct {
	mu        sync.Mutex
	Base      uint64
	Data      []byte
	connected bool

	// ReadCount and WriteCount count the successful ReadMemory and
	// WriteMemory calls made so far.
	ReadCount  int
	WriteCount int
}

// NewMemory creates a Memory backend of size bytes addressed starting
// at base.
func NewMemory(base uint64, size int) *Memory {
	return &Memory{Base: base, Data: make([]byte, size)}
}

var errNotConnected = errors.New("fake: not connected")

// Connect marks the backend as connected.
func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Disconnect marks the backend as disconnected.
func (m *Memory) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// ReadMemory returns a copy of length bytes starting at addr.
func (m *Memory) ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, errNotConnected
	}
	off := addr - m.Base
	if off > uint64(len(m.Data)) || off+uint64(length) > uint64(len(m.Data)) {
		return nil, errors.New("fake: read out of range")
	}
	out := make([]byte, length)
	copy(out, m.Data[off:off+uint64(length)])
	m.ReadCount++
	return out, nil
}

// WriteMemory copies buf into the backing slice starting at addr.
func (m *Memory) WriteMemory(ctx context.Context, addr uint64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return errNotConnected
	}
	off := addr - m.Base
	if off > uint64(len(m.Data)) || off+uint64(len(buf)) > uint64(len(m.Data)) {
		return errors.New("fake: write out of range")
	}
	copy(m.Data[off:off+uint64(len(buf))], buf)
	m.WriteCount++
	return nil
}
