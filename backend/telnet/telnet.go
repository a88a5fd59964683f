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
// The line-oriented on-chip-debugger backend: mdw/mww word commands
// over a '> '-prompted text stream, reachable either over TCP or a
// local serial line.
package telnet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	serial "github.com/daedaluz/goserial"
)

// DefaultAddr is the conventional address of a local on-chip-debugger
// telnet command server.
const DefaultAddr = "localhost:4444"

// prompt is the line-oriented interpreter's command prompt. A command's
// response is considered complete once this has been seen.
const prompt = "> "

// Backend implements backend.Backend over the mdw/mww line-oriented
// command interpreter. Connect dials either a TCP address (the
// default) or, when SerialDevice is set, a local serial port through
// goserial.
type Backend struct {
	Addr    string
	Timeout time.Duration

	// SerialDevice, when non-empty, is opened instead of dialing Addr
	// over TCP. BaudRate defaults to 115200 if zero.
	SerialDevice string
	BaudRate     int

	conn io.ReadWriteCloser
	r    *bufio.Reader
}

// New creates a Backend that dials addr over TCP on Connect. An empty
// addr defaults to DefaultAddr.
func New(addr string) *Backend {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Backend{Addr: addr, Timeout: 5 * time.Second}
}

// NewSerial creates a Backend that opens a local serial device on
// Connect instead of dialing a TCP address.
func NewSerial(device string, baud int) *Backend {
	return &Backend{SerialDevice: device, BaudRate: baud, Timeout: 5 * time.Second}
}

// Connect opens the underlying transport and discards the interpreter's
// initial banner.
func (b *Backend) Connect(ctx context.Context) error {
	if b.SerialDevice != "" {
		baud := b.BaudRate
		if baud == 0 {
			baud = 115200
		}
		port, err := serial.Open(b.SerialDevice, nil)
		if err != nil {
			return fmt.Errorf("telnet: open serial %s: %w", b.SerialDevice, err)
		}
		attrs, err := port.GetAttr2()
		if err != nil {
			port.Close()
			return fmt.Errorf("telnet: get attrs %s: %w", b.SerialDevice, err)
		}
		attrs.MakeRaw()
		attrs.SetCustomSpeed(uint32(baud))
		if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
			port.Close()
			return fmt.Errorf("telnet: set attrs %s: %w", b.SerialDevice, err)
		}
		b.conn = port
	} else {
		d := net.Dialer{Timeout: b.Timeout}
		conn, err := d.DialContext(ctx, "tcp", b.Addr)
		if err != nil {
			return fmt.Errorf("telnet: connect: %w", err)
		}
		b.conn = conn
	}
	b.r = bufio.NewReader(b.conn)
	// Discard the banner/initial prompt, mirroring the line-oriented
	// client's welcome-message handshake.
	if _, err := b.readUntilPrompt(); err != nil {
		return fmt.Errorf("telnet: read banner: %w", err)
	}
	return nil
}

// Disconnect closes the underlying transport.
func (b *Backend) Disconnect(ctx context.Context) error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	b.r = nil
	return err
}

// ReadMemory issues an 'mdw' word-read command, parsing the interpreter's
// "0xADDR: w0 w1 ..." hex-dump reply. Misaligned or partial-word reads
// are handled by reading the containing aligned words and trimming the
// result to the requested range.
func (b *Backend) ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error) {
	alignOffset := uint32(addr % 4)
	alignedAddr := addr - uint64(alignOffset)
	totalBytes := alignOffset + uint32(length)
	wordsNeeded := (totalBytes + 3) / 4

	cmd := fmt.Sprintf("mdw 0x%08x %d", alignedAddr, wordsNeeded)
	resp, err := b.command(cmd)
	if err != nil {
		return nil, err
	}

	words, err := parseWordDump(resp)
	if err != nil {
		return nil, fmt.Errorf("telnet: parse mdw reply: %w", err)
	}
	if uint32(len(words)) < wordsNeeded {
		return nil, fmt.Errorf("telnet: short mdw reply: got %d words, want %d", len(words), wordsNeeded)
	}

	data := make([]byte, 0, wordsNeeded*4)
	for _, w := range words[:wordsNeeded] {
		data = append(data,
			byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	if uint32(len(data)) < alignOffset+uint32(length) {
		return nil, fmt.Errorf("telnet: not enough data: got %d bytes, need %d", len(data), alignOffset+uint32(length))
	}
	return data[alignOffset : alignOffset+uint32(length)], nil
}

// WriteMemory issues an 'mww' word-write command. A write whose address
// or length is not a multiple of four is turned into a
// read-modify-write of the aligned words that contain it; the monitor's
// ring-span and file-chunk writes take this path whenever they land on
// arbitrary byte offsets, while its 4-byte control-block field writes
// are already word-aligned.
func (b *Backend) WriteMemory(ctx context.Context, addr uint64, buf []byte) error {
	if len(buf)%4 != 0 || addr%4 != 0 {
		return b.writeMemoryUnaligned(addr, buf)
	}
	return b.writeMemoryAligned(addr, buf)
}

// writeMemoryUnaligned performs a read-modify-write cycle over the
// aligned words spanning [addr, addr+len(buf)) for writes that don't
// land on a word boundary with a word-multiple length.
func (b *Backend) writeMemoryUnaligned(addr uint64, buf []byte) error {
	alignOffset := addr % 4
	alignedAddr := addr - alignOffset
	totalBytes := alignOffset + uint64(len(buf))
	wordsNeeded := (totalBytes + 3) / 4
	spanLen := int(wordsNeeded * 4)

	existing, err := b.ReadMemory(context.Background(), alignedAddr, spanLen)
	if err != nil {
		return fmt.Errorf("telnet: read-modify-write read: %w", err)
	}
	copy(existing[alignOffset:], buf)
	return b.writeMemoryAligned(alignedAddr, existing)
}

// writeMemoryAligned issues mww for a buffer already known to be
// word-aligned in both address and length.
func (b *Backend) writeMemoryAligned(addr uint64, buf []byte) error {
	words := make([]string, 0, len(buf)/4)
	for i := 0; i < len(buf); i += 4 {
		w := uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
		words = append(words, fmt.Sprintf("0x%08x", w))
	}
	cmd := fmt.Sprintf("mww 0x%08x %d %s", addr, len(words), strings.Join(words, " "))
	_, err := b.command(cmd)
	return err
}

// command sends cmd terminated by a newline and returns the reply with
// the command echo and trailing prompt stripped.
func (b *Backend) command(cmd string) (string, error) {
	if _, err := b.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("telnet: send %q: %w", cmd, err)
	}
	resp, err := b.readUntilPrompt()
	if err != nil {
		return "", fmt.Errorf("telnet: read reply to %q: %w", cmd, err)
	}
	return resp, nil
}

// readUntilPrompt accumulates bytes from the connection, one at a time,
// until the interpreter's "> " prompt appears in the tail of what's
// been read, then returns everything read before it. This mirrors the
// raw-recv-and-scan loop the reference client uses rather than reading
// line by line, since the prompt itself is not newline-terminated.
func (b *Backend) readUntilPrompt() (string, error) {
	var sb strings.Builder
	for {
		c, err := b.r.ReadByte()
		if err != nil {
			return "", err
		}
		sb.WriteByte(c)
		s := sb.String()
		if idx := strings.Index(s, prompt); idx >= 0 {
			return s[:idx], nil
		}
	}
}

// parseWordDump parses a "0xADDRESS: w0 w1 ..." hex-dump reply into
// its constituent 32-bit words, ignoring command-echo and blank lines.
func parseWordDump(resp string) ([]uint32, error) {
	var words []uint32
	for _, line := range strings.FieldsFunc(resp, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if line == "" || !strings.Contains(line, ":") || !strings.Contains(line, "0x") || strings.Contains(line, "mdw") {
			continue
		}
		colon := strings.Index(line, ":")
		rest := line[colon+1:]
		for _, tok := range strings.Fields(rest) {
			if len(tok) != 8 {
				continue
			}
			v, err := strconv.ParseUint(tok, 16, 32)
			if err != nil {
				continue
			}
			words = append(words, uint32(v))
		}
	}
	return words, nil
}
