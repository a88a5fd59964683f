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
// The printf convenience wrapper application code links against
// instead of calling Puts directly.

package firmware

import (
	"errors"
	"fmt"
)

// ctxWriter adapts a Context's Putsn to io.Writer so fmt.Fprintf can
// format directly into the output ring.
type ctxWriter struct{ ctx *Context }

func (w ctxWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Putsn(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Printf formats according to format and writes the result through
// ctx.Putsn. A nil ctx falls back to the process-wide default context
// registered with SetAsDefault. It is the Go stand-in for the firmware's
// vsnprintf-backed printf glue named in the external-interfaces list.
func Printf(ctx *Context, format string, a ...interface{}) error {
	if ctx == nil {
		ctx = GetDefault()
	}
	if ctx == nil {
		return errors.New("firmware: printf: nil context")
	}
	_, err := fmt.Fprintf(ctxWriter{ctx}, format, a...)
	return err
}
