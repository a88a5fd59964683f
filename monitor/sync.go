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
// Desync detection and the CLEAR_BUFFER request/acknowledge cycle.

package monitor

import (
	"context"

	"github.com/choco-technologies/dmlog/wire"
)

// handleDesync is called whenever a just-read control block fails
// Validate. If the monitor had never seen a valid block yet, this is
// most likely the target not having booted far enough to have called
// firmware.Create, and is traced at TraceInfo without further action.
// Otherwise this is a real desync -- spec.md §4.4's synchronize step:
// re-read the control block once, on the chance the first read simply
// tore across a firmware update, and if it still doesn't validate,
// issue a CLEAR_BUFFER request/acknowledge cycle so both sides return
// to a known-zero state per spec.md §8 item 5.
func (d *Driver) handleDesync(ctx context.Context, verr error) {
	wasValid := d.haveLastCB
	d.resetShadowState()

	if !wasValid {
		Tracef(TraceInfo, "waiting for target to initialize: %v", verr)
		return
	}

	Tracef(TraceWarn, "control block desynchronized: %v", verr)
	if d.evt != nil {
		d.evt.Publish("desync", map[string]interface{}{"error": verr.Error()})
	}

	if cb, _, err := d.readControlBlock(ctx); err == nil {
		if verr := cb.Validate(); verr == nil {
			d.haveLastCB = true
			d.lastCB = cb
			return
		}
	}

	Tracef(TraceWarn, "control block still invalid after re-read, requesting clear")
	if err := d.RequestClear(ctx); err != nil {
		Tracef(TraceWarn, "clear request after desync: %v", err)
	}
}

// resetShadowState discards every piece of local state the driver
// carries between iterations, the common cleanup both branches of
// handleDesync need before deciding what to do next.
func (d *Driver) resetShadowState() {
	d.haveLastCB = false
	d.fileSend.reset()
	d.fileRecv.reset()
	d.havePending = false
}

// RequestClear asks firmware to clear both rings by setting
// CLEAR_BUFFER and waiting for firmware to clear it back, the monitor
// side of firmware.Context.Clear's handshake. It acquires BUSY for the
// duration, matching firmware's own re-entrant discipline around ring
// mutation.
func (d *Driver) RequestClear(ctx context.Context) error {
	if err := d.acquireBusy(ctx); err != nil {
		return err
	}
	cur, err := d.readFlags(ctx)
	if err != nil {
		d.releaseBusyBestEffort(ctx)
		return err
	}
	if err := d.writeFlags(ctx, cur.Set(wire.FlagClearBuffer)); err != nil {
		d.releaseBusyBestEffort(ctx)
		return err
	}
	d.releaseBusyBestEffort(ctx)

	for i := 0; i < busyAcquireAttempts; i++ {
		cur, err := d.readFlags(ctx)
		if err != nil {
			return err
		}
		if !cur.Has(wire.FlagClearBuffer) {
			d.bytesOutSeen = 0
			d.havePending = false
			if d.evt != nil {
				d.evt.Publish("clear_completed", nil)
			}
			return nil
		}
	}
	return ErrBusyTimeout
}
