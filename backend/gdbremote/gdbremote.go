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
// The packet-oriented debug-serial backend: $<payload>#<cksum> framing
// over a plain TCP stream, m/M memory operations, run-length decoding
// and halt/resume around every memory access.
package gdbremote

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultAddr is the conventional address of a local debug-packet
// server, e.g. a GDB-remote-protocol stub.
const DefaultAddr = "localhost:3333"

// Backend implements backend.Backend over the GDB remote serial
// protocol. The target must be halted for memory access; Backend
// transparently interrupts a running target before a memory operation
// and resumes it afterwards.
type Backend struct {
	Addr    string
	Timeout time.Duration

	conn    net.Conn
	r       *bufio.Reader
	running bool
}

// New creates a Backend that will dial addr on Connect. An empty addr
// defaults to DefaultAddr.
func New(addr string) *Backend {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Backend{Addr: addr, Timeout: 5 * time.Second}
}

// Connect dials the debug-packet server.
func (b *Backend) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: b.Timeout}
	conn, err := d.DialContext(ctx, "tcp", b.Addr)
	if err != nil {
		return fmt.Errorf("gdbremote: connect: %w", err)
	}
	b.conn = conn
	b.r = bufio.NewReader(conn)
	return nil
}

// Disconnect closes the connection.
func (b *Backend) Disconnect(ctx context.Context) error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	b.r = nil
	return err
}

// ReadMemory issues an 'm<addr>,<len>' packet, draining and retrying
// past any asynchronous stop-reply packet, decoding run-length
// encoding, and interrupting/resuming the target around the access.
func (b *Backend) ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error) {
	wasRunning := b.running
	if wasRunning {
		if err := b.interrupt(); err != nil {
			return nil, err
		}
	}
	cmd := fmt.Sprintf("m%x,%x", addr, length)
	resp, err := b.transactRetryingStopReply(cmd)
	if err != nil {
		if wasRunning {
			_ = b.resume()
		}
		return nil, err
	}
	if wasRunning {
		if err := b.resume(); err != nil {
			return nil, err
		}
	}
	if strings.HasPrefix(resp, "E") {
		return nil, fmt.Errorf("gdbremote: read error reply %q", resp)
	}
	decoded, err := decodeRLE(resp)
	if err != nil {
		return nil, fmt.Errorf("gdbremote: decode rle: %w", err)
	}
	if len(decoded) < length*2 {
		return nil, fmt.Errorf("gdbremote: short response: want %d hex chars, got %d",
			length*2, len(decoded))
	}
	out, err := hex.DecodeString(decoded[:length*2])
	if err != nil {
		return nil, fmt.Errorf("gdbremote: decode hex: %w", err)
	}
	return out, nil
}

// WriteMemory issues an 'M<addr>,<len>:<hex>' packet, interrupting and
// resuming the target around the access.
func (b *Backend) WriteMemory(ctx context.Context, addr uint64, buf []byte) error {
	wasRunning := b.running
	if wasRunning {
		if err := b.interrupt(); err != nil {
			return err
		}
	}
	cmd := fmt.Sprintf("M%x,%x:%s", addr, len(buf), hex.EncodeToString(buf))
	resp, err := b.transactRetryingStopReply(cmd)
	if err != nil {
		if wasRunning {
			_ = b.resume()
		}
		return err
	}
	if wasRunning {
		if err := b.resume(); err != nil {
			return err
		}
	}
	if resp != "OK" {
		return fmt.Errorf("gdbremote: write error reply %q", resp)
	}
	return nil
}

// transactRetryingStopReply sends cmd and waits for a reply, draining
// and retrying once if the first reply received is an asynchronously
// delivered stop-reply packet rather than the expected data.
func (b *Backend) transactRetryingStopReply(cmd string) (string, error) {
	if err := b.sendPacket(cmd); err != nil {
		return "", err
	}
	if err := b.waitForAck(); err != nil {
		return "", err
	}
	resp, err := b.receivePacket()
	if err != nil {
		return "", err
	}
	if isStopReply(resp) {
		b.drainPending()
		if err := b.sendPacket(cmd); err != nil {
			return "", err
		}
		if err := b.waitForAck(); err != nil {
			return "", err
		}
		resp, err = b.receivePacket()
		if err != nil {
			return "", err
		}
	}
	return resp, nil
}

func (b *Backend) interrupt() error {
	if _, err := b.conn.Write([]byte{0x03}); err != nil {
		return fmt.Errorf("gdbremote: send interrupt: %w", err)
	}
	reply, err := b.receivePacket()
	if err != nil {
		return fmt.Errorf("gdbremote: await stop reply: %w", err)
	}
	if !isStopReply(reply) {
		return fmt.Errorf("gdbremote: expected stop reply, got %q", reply)
	}
	b.running = false
	return nil
}

func (b *Backend) resume() error {
	if err := b.sendPacket("c"); err != nil {
		return err
	}
	b.running = true
	return nil
}

func (b *Backend) drainPending() {
	// Best-effort: read whatever is already buffered without blocking
	// indefinitely on a quiescent connection.
	_ = b.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	for {
		if _, err := b.receivePacket(); err != nil {
			break
		}
	}
	_ = b.conn.SetReadDeadline(time.Time{})
}

func isStopReply(pkt string) bool {
	return len(pkt) > 0 && (pkt[0] == 'S' || pkt[0] == 'T')
}

func checksum(data string) byte {
	var sum byte
	for i := 0; i < len(data); i++ {
		sum += data[i]
	}
	return sum
}

func (b *Backend) sendPacket(payload string) error {
	pkt := fmt.Sprintf("$%s#%02x", payload, checksum(payload))
	_, err := b.conn.Write([]byte(pkt))
	return err
}

var errBadFrame = errors.New("gdbremote: malformed packet frame")

func (b *Backend) receivePacket() (string, error) {
	for {
		c, err := b.r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '$' {
			break
		}
	}
	var payload []byte
	for {
		c, err := b.r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '#' {
			break
		}
		payload = append(payload, c)
	}
	cksumHex := make([]byte, 2)
	if _, err := b.r.Read(cksumHex); err != nil {
		return "", errBadFrame
	}
	want, err := strconv.ParseUint(string(cksumHex), 16, 8)
	if err != nil {
		return "", errBadFrame
	}
	if byte(want) != checksum(string(payload)) {
		return "", fmt.Errorf("gdbremote: checksum mismatch")
	}
	// acknowledge receipt
	_, _ = b.conn.Write([]byte{'+'})
	return string(payload), nil
}

func (b *Backend) waitForAck() error {
	c, err := b.r.ReadByte()
	if err != nil {
		return err
	}
	if c != '+' {
		return fmt.Errorf("gdbremote: expected ack, got %q", c)
	}
	return nil
}

// decodeRLE decodes the GDB remote protocol's run-length encoding: a
// '*' followed by a character means "repeat the previous output
// character (repeat-char - 29) more times".
func decodeRLE(input string) (string, error) {
	var out []byte
	for i := 0; i < len(input); i++ {
		if input[i] != '*' {
			out = append(out, input[i])
			continue
		}
		i++
		if i >= len(input) {
			return "", errors.New("unexpected end of input after '*'")
		}
		if len(out) == 0 {
			return "", errors.New("rle repeat with no preceding character")
		}
		repeat := int(input[i]) - 29
		if repeat <= 0 {
			return "", errors.New("invalid rle repeat count")
		}
		prev := out[len(out)-1]
		for j := 0; j < repeat; j++ {
			out = append(out, prev)
		}
	}
	return string(out), nil
}
