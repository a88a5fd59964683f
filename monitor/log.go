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
// Leveled trace facility. Unlike the error-kind taxonomy in package wire,
// nothing logged here is fatal: the driver logs a trace line and keeps
// looping, per spec.md's "trace line plus a continued loop" error policy.

package monitor

import (
	"log"
	"os"
)

// Trace levels, ordered from most to least severe.
const (
	TraceError int = iota
	TraceWarn
	TraceInfo
	TraceVerbose
)

// traceLevelNames maps the --trace-level flag's string values to the
// TraceError..TraceVerbose constants.
var traceLevelNames = map[string]int{
	"error":   TraceError,
	"warn":    TraceWarn,
	"info":    TraceInfo,
	"verbose": TraceVerbose,
}

// ParseTraceLevel converts one of "error"/"warn"/"info"/"verbose" into its
// trace level constant. An unrecognized name defaults to TraceInfo.
func ParseTraceLevel(name string) int {
	if lvl, ok := traceLevelNames[name]; ok {
		return lvl
	}
	return TraceInfo
}

var (
	traceErr     *log.Logger
	traceWarn    *log.Logger
	traceInfo    *log.Logger
	traceVerbose *log.Logger
	traceLevel   = TraceInfo
	indentLevel  uint
)

// SetTraceLevel sets the minimum severity of trace messages that are
// actually printed. Messages less severe than the configured level
// (numerically greater) are dropped.
func SetTraceLevel(level int) {
	traceLevel = level
}

// Tracef prints a trace message at the given level, prefixed with the
// current indentation, if level is at least as severe as the configured
// trace level (level <= the configured value). It never exits the process -- every condition the driver traces
// is, per spec.md's error-handling design, expected and non-fatal.
func Tracef(level int, format string, a ...interface{}) {
	if level > traceLevel {
		return
	}

	for i := uint(0); i < indentLevel; i++ {
		format = "... " + format
	}

	switch level {
	case TraceError:
		if traceErr == nil {
			traceErr = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Lmicroseconds)
		}
		traceErr.Printf(format, a...)
	case TraceWarn:
		if traceWarn == nil {
			traceWarn = log.New(os.Stderr, "WARN: ", log.Ldate|log.Lmicroseconds)
		}
		traceWarn.Printf(format, a...)
	case TraceInfo:
		if traceInfo == nil {
			traceInfo = log.New(os.Stdout, "INFO: ", log.Ldate|log.Lmicroseconds)
		}
		traceInfo.Printf(format, a...)
	default:
		if traceVerbose == nil {
			traceVerbose = log.New(os.Stdout, "VERBOSE: ", log.Ldate|log.Lmicroseconds)
		}
		traceVerbose.Printf(format, a...)
	}
}

// IncrementIndent increases the indentation applied to subsequent trace
// messages, used while a multi-step operation (e.g. a resynchronize
// cycle) is in progress.
func IncrementIndent() {
	indentLevel++
}

// DecrementIndent decreases the indentation applied to subsequent trace
// messages.
func DecrementIndent() {
	if indentLevel == 0 {
		return
	}
	indentLevel--
}
