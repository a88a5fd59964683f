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
// Step 3 of the main loop: when firmware sets INPUT_REQUESTED, obtain a
// line from stdin (or an init-script, falling back to stdin once
// exhausted) and write it into the input ring.

package monitor

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/choco-technologies/dmlog/wire"
)

// inputSource supplies the lines Driver feeds into the input ring.
// ReadLine's second return value is false once the source is exhausted
// (EOF); the trailing newline, if present in the underlying stream, is
// included in the returned line.
type inputSource interface {
	ReadLine() (string, bool)
}

// lineSource adapts a bufio.Reader to inputSource.
type lineSource struct{ r *bufio.Reader }

func newLineSource(r io.Reader) *lineSource { return &lineSource{r: bufio.NewReader(r)} }

func (s *lineSource) ReadLine() (string, bool) {
	line, err := s.r.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return line, true
}

// stdinSource reads operator input from the process's own stdin,
// lazily, so a Driver constructed without an explicit input source
// doesn't open stdin until input is actually requested.
type stdinSource struct{}

var processStdin = newLineSource(os.Stdin)

func (stdinSource) ReadLine() (string, bool) { return processStdin.ReadLine() }

// scriptThenStdin reads from an init-script first; once the script is
// exhausted it falls back to stdin for the remainder of the session,
// per spec.md §4.4's "stdin (or the next line from an init-script file
// if one is configured)".
type scriptThenStdin struct {
	script *lineSource
	stdin  inputSource
}

func (s *scriptThenStdin) ReadLine() (string, bool) {
	if s.script != nil {
		if line, ok := s.script.ReadLine(); ok {
			return line, true
		}
		s.script = nil
	}
	return s.stdin.ReadLine()
}

// NewFileInput reads every input line from f and never falls back to
// stdin, used for fully scripted, non-interactive monitor runs (the
// --input-file CLI flag).
func NewFileInput(f io.Reader) inputSource { return newLineSource(f) }

// NewInitScriptInput reads from script until it is exhausted, then
// falls back to stdin, used for the --init-script CLI flag.
func NewInitScriptInput(script io.Reader) inputSource {
	return &scriptThenStdin{script: newLineSource(script), stdin: stdinSource{}}
}

// feedInput services step 3 of the main loop. It is a multi-iteration
// operation when the requested line is longer than the input ring's
// free space: the unwritten remainder is carried in d.pendingInput and
// retried on the next call, per the input ring's no-overwrite overrun
// policy (push_bytes fails rather than evicting).
//
// This write path intentionally does not wait for BUSY: if firmware
// is parked holding BUSY while it waits on INPUT_REQUESTED, the
// monitor must still be able to deliver input, so in_head is written
// directly. This is the one documented exception to the otherwise
// symmetric BUSY discipline (spec.md §4.2, §9).
func (d *Driver) feedInput(ctx context.Context, cb wire.ControlBlock) error {
	if d.tm != nil {
		d.tm.Apply(cb.Flags)
	}

	if !d.havePending {
		line, ok := d.in.ReadLine()
		if !ok {
			return nil
		}
		d.pendingInput = []byte(line)
		d.havePending = true
		if d.evt != nil {
			d.evt.Publish("input_requested", map[string]interface{}{
				"echo_off":  cb.Flags.Has(wire.FlagInputEchoOff),
				"line_mode": cb.Flags.Has(wire.FlagInputLineMode),
			})
		}
	}

	free := int(wire.FreeSpace(cb.InHead, cb.InTail, cb.InSize))
	if free == 0 {
		// Ring full; wait and retry next iteration rather than block.
		return nil
	}
	n := len(d.pendingInput)
	if n > free {
		n = free
	}
	chunk := d.pendingInput[:n]
	newHead, err := d.writeRingSpan(ctx, d.ctrlAddr+cb.InBuf, cb.InSize, cb.InHead, chunk)
	if err != nil {
		return err
	}
	if err := d.writeUint32Field(ctx, wire.OffsetInHead, newHead); err != nil {
		return err
	}

	d.pendingInput = d.pendingInput[n:]
	if len(d.pendingInput) > 0 {
		// Wrote what fit; the remainder goes out on a later iteration
		// once firmware has consumed some of what's already there.
		return nil
	}
	d.havePending = false

	cur, err := d.readFlags(ctx)
	if err != nil {
		return err
	}
	return d.writeFlags(ctx, cur.Clear(wire.FlagInputRequested).Set(wire.FlagInputAvailable))
}
