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
// Driver, the monitor-side main loop: read the control block, drain new
// output to stdout, feed operator/script input into the input ring,
// service file-transfer requests, and recover from desync.

// Package monitor implements the host-side half of the dmlog channel: the
// loop that reads a target's control block through a backend.Backend,
// mirrors firmware log output to the operator's terminal, forwards
// operator input back into the target, and mediates file transfers
// between target memory and the host filesystem.
package monitor

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/choco-technologies/dmlog/backend"
	"github.com/choco-technologies/dmlog/wire"
)

// ReadMode selects how Driver fetches the control block and ring
// contents on each loop iteration.
type ReadMode int

const (
	// ModeLive reads a bounded batch of new output bytes each
	// iteration without acquiring BUSY. This is the default: lowest
	// latency, at the cost of occasionally racing a firmware write
	// (caught by the magic/offset validation, not by locking).
	ModeLive ReadMode = iota
	// ModeBlocking acquires BUSY for the duration of each read,
	// trading latency (the firmware may have to wait out the spin) for
	// a control block that never tears mid-read.
	ModeBlocking
	// ModeSnapshot reads the control block, then the whole output ring
	// in one further backend read, and services records from that local
	// copy, at the cost of observing flag mutations only as of the last
	// snapshot -- eventually, not immediately, consistent. The input
	// ring is not part of the snapshot.
	ModeSnapshot
)

// defaultPollInterval is the sleep between loop iterations in live or
// blocking mode.
const defaultPollInterval = 100 * time.Millisecond

// defaultSnapshotPollInterval is the sleep between iterations in
// snapshot mode, longer because each iteration already pays for a
// whole-region read.
const defaultSnapshotPollInterval = 300 * time.Millisecond

// liveReadBatch bounds how many output bytes ModeLive drains in a
// single iteration, so one very chatty target cannot starve input
// feeding and file-transfer servicing within the same loop pass.
const liveReadBatch = 4096

// eventPublisher is the narrow capability Driver needs from an events
// publisher; it lets monitor/events stay optional without an import
// cycle (monitor never imports events, events imports nothing of
// monitor's).
type eventPublisher interface {
	Publish(evtName string, args interface{})
}

// Driver owns one monitoring session against a single target.
type Driver struct {
	backend  backend.Backend
	ctrlAddr uint64
	mode     ReadMode
	poll     time.Duration

	out io.Writer
	in  inputSource
	evt eventPublisher
	tm  *terminalController

	rateTrace bool

	// shadow state carried between iterations
	lastCB       wire.ControlBlock
	haveLastCB   bool
	bytesOutSeen uint64
	lastRateAt   time.Time

	pendingInput []byte
	havePending  bool

	fileSend fileSendState
	fileRecv fileRecvState
}

// Option configures a Driver constructed by New.
type Option func(*Driver)

// WithMode selects the control-block read strategy. The default is
// ModeLive.
func WithMode(mode ReadMode) Option {
	return func(d *Driver) {
		d.mode = mode
		if mode == ModeSnapshot {
			d.poll = defaultSnapshotPollInterval
		}
	}
}

// WithPollInterval overrides the sleep between loop iterations.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) { d.poll = interval }
}

// WithOutput overrides where drained firmware output is written; the
// default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) { d.out = w }
}

// WithInput supplies the source of lines fed into the input ring when
// INPUT_REQUESTED is observed; the default reads from os.Stdin.
func WithInput(src inputSource) Option {
	return func(d *Driver) { d.in = src }
}

// WithEvents attaches an events publisher that is notified of
// input-requested, file-transfer-progress, desync and clear-completed
// transitions. Passing a nil publisher is equivalent to omitting this
// option.
func WithEvents(pub eventPublisher) Option {
	return func(d *Driver) {
		if pub != nil {
			d.evt = pub
		}
	}
}

// WithTerminal attaches the operator-terminal controller used to honor
// INPUT_ECHO_OFF / INPUT_LINE_MODE hints carried on an input request.
func WithTerminal(t *terminalController) Option {
	return func(d *Driver) { d.tm = t }
}

// WithRateTrace enables periodic throughput trace messages, the
// --time CLI flag's behaviour.
func WithRateTrace(enabled bool) Option {
	return func(d *Driver) { d.rateTrace = enabled }
}

// New creates a Driver that will read the control block at ctrlAddr in
// the target memory reachable through b.
func New(b backend.Backend, ctrlAddr uint64, opts ...Option) *Driver {
	d := &Driver{
		backend:  b,
		ctrlAddr: ctrlAddr,
		mode:     ModeLive,
		poll:     defaultPollInterval,
		out:      os.Stdout,
		in:       stdinSource{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run connects the backend and drives the poll loop until ctx is
// canceled. A failure to
// connect is returned to the caller, who per spec.md §6 should exit
// non-zero; every other error is traced and the loop continues.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.backend.Connect(ctx); err != nil {
		return fmt.Errorf("monitor: connect: %w", err)
	}
	defer func() {
		if err := d.backend.Disconnect(context.Background()); err != nil {
			Tracef(TraceWarn, "disconnect: %v", err)
		}
		if d.tm != nil {
			d.tm.Restore()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		d.runOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.poll):
		}
	}
}

// runOnce performs one iteration of the loop described in spec.md §4.4:
// read the control block, drain new output, feed requested input,
// service one file-transfer chunk.
func (d *Driver) runOnce(ctx context.Context) {
	cb, raw, err := d.readControlBlock(ctx)
	if err != nil {
		Tracef(TraceWarn, "read control block: %v", err)
		return
	}
	if verr := cb.Validate(); verr != nil {
		d.handleDesync(ctx, verr)
		return
	}
	d.haveLastCB = true
	d.lastCB = cb

	if err := d.drainOutput(ctx, cb, raw); err != nil {
		Tracef(TraceWarn, "drain output: %v", err)
	}

	if cb.Flags.Has(wire.FlagInputRequested) {
		if err := d.feedInput(ctx, cb); err != nil {
			Tracef(TraceWarn, "feed input: %v", err)
		}
	}

	if cb.Flags.Has(wire.FlagFileSendReq) {
		if err := d.serviceFileSend(ctx, cb); err != nil {
			Tracef(TraceWarn, "service file send: %v", err)
		}
	}

	if cb.Flags.Has(wire.FlagFileRecvReq) {
		if err := d.serviceFileRecv(ctx, cb); err != nil {
			Tracef(TraceWarn, "service file recv: %v", err)
		}
	}

	if d.rateTrace {
		d.traceRate()
	}
}

// readControlBlock reads and decodes the control block from the
// target, returning the raw control-block bytes alongside. The raw
// bytes cover the control block only, not the rings.
func (d *Driver) readControlBlock(ctx context.Context) (wire.ControlBlock, []byte, error) {
	raw, err := d.backend.ReadMemory(ctx, d.ctrlAddr, wire.ControlBlockSize)
	if err != nil {
		return wire.ControlBlock{}, nil, err
	}
	cb, err := wire.DecodeControlBlock(raw)
	if err != nil {
		return wire.ControlBlock{}, nil, err
	}
	return cb, raw, nil
}

// writeUint32Field writes a single little-endian uint32 control-block
// field directly to target memory at ctrlAddr+offset, without
// re-encoding or rewriting the rest of the block.
func (d *Driver) writeUint32Field(ctx context.Context, offset int, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return d.backend.WriteMemory(ctx, d.ctrlAddr+uint64(offset), buf[:])
}

// writeFlags writes the control block's flags field.
func (d *Driver) writeFlags(ctx context.Context, f wire.Flags) error {
	return d.writeUint32Field(ctx, wire.OffsetFlags, uint32(f))
}

// traceRate reports the cumulative bytes drained from the output ring
// since Run started, at TraceVerbose, the --time flag's behaviour.
func (d *Driver) traceRate() {
	now := time.Now()
	if d.lastRateAt.IsZero() {
		d.lastRateAt = now
		return
	}
	elapsed := now.Sub(d.lastRateAt)
	if elapsed < time.Second {
		return
	}
	Tracef(TraceVerbose, "drained %d bytes total", d.bytesOutSeen)
	d.lastRateAt = now
}
