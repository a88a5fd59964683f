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
// Operator terminal handling: toggle raw/cooked mode to match
// INPUT_LINE_MODE as firmware requests it. INPUT_ECHO_OFF has no
// separate effect here.

package monitor

import (
	"sync"

	"github.com/choco-technologies/dmlog/wire"
	"golang.org/x/term"
)

// terminalController tracks the operator terminal's cooked/raw state
// and restores it on exit. It is safe for the zero value not to be
// used directly -- construct one with NewTerminalController.
type terminalController struct {
	fd int

	mu        sync.Mutex
	raw       bool
	savedOK   bool
	savedTerm *term.State
}

// NewTerminalController returns a controller for the terminal attached
// to fd, or nil if fd is not a terminal -- callers should skip
// WithTerminal entirely in that case (redirected stdin/stdout, CI runs,
// scripted input).
func NewTerminalController(fd int) *terminalController {
	if !term.IsTerminal(fd) {
		return nil
	}
	return &terminalController{fd: fd}
}

// Apply puts the terminal into the cooked/raw state implied by flags:
// raw (no local echo, no line buffering) while INPUT_LINE_MODE is
// clear, cooked otherwise. INPUT_ECHO_OFF is not consulted: in line
// mode the terminal stays cooked with local echo on. While
// INPUT_REQUESTED is clear the terminal is returned to cooked mode.
// State changes that fail (e.g. the fd is
// concurrently closed) are traced and otherwise ignored, consistent
// with the rest of the monitor's never-fatal error policy.
func (t *terminalController) Apply(flags wire.Flags) {
	if !flags.Has(wire.FlagInputRequested) {
		t.leaveRaw()
		return
	}
	if flags.Has(wire.FlagInputLineMode) {
		t.leaveRaw()
		return
	}
	t.enterRaw()
}

// Restore returns the terminal to whatever state it was in before the
// first call into raw mode, if any. It is safe to call on a controller
// that never entered raw mode.
func (t *terminalController) Restore() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.savedOK {
		return
	}
	if err := term.Restore(t.fd, t.savedTerm); err != nil {
		Tracef(TraceWarn, "restore terminal: %v", err)
	}
	t.raw = false
	t.savedOK = false
}

// enterRaw switches the terminal into raw mode, saving the prior state
// the first time it is called so Restore can undo it later.
func (t *terminalController) enterRaw() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.raw {
		return
	}
	st, err := term.MakeRaw(t.fd)
	if err != nil {
		Tracef(TraceWarn, "enter raw mode: %v", err)
		return
	}
	if !t.savedOK {
		t.savedTerm = st
		t.savedOK = true
	}
	t.raw = true
}

// leaveRaw restores cooked mode without forgetting the originally
// saved state, so toggling line mode on and off repeatedly during a
// session still ends with the real original terminal state on exit.
func (t *terminalController) leaveRaw() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.raw || !t.savedOK {
		return
	}
	if err := term.Restore(t.fd, t.savedTerm); err != nil {
		Tracef(TraceWarn, "leave raw mode: %v", err)
		return
	}
	t.raw = false
}
