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
// dmlog-monitor is the CLI entry point for the monitor side: pick a
// debug backend (on-chip-debugger telnet server, or a GDB remote-serial
// stub), attach to a target's control block and run the poll loop until
// interrupted.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/choco-technologies/dmlog/backend"
	"github.com/choco-technologies/dmlog/backend/gdbremote"
	"github.com/choco-technologies/dmlog/backend/telnet"
	"github.com/choco-technologies/dmlog/monitor"
	"github.com/choco-technologies/dmlog/monitor/events"
)

// Default backend ports, used whenever --port is left at 0: the
// on-chip-debugger telnet interpreter listens on 4444, a GDB
// remote-serial stub typically on 3333.
const (
	defaultTelnetPort = 4444
	defaultGDBPort    = 3333
)

// cmd holds every flag value bound in init(); run(cmd) is the testable
// body cobra's RunE hands off to.
type cmd struct {
	host string
	port int
	gdb  bool

	serialDev  string
	serialBaud int

	addr string

	snapshot     bool
	blocking     bool
	pollInterval time.Duration
	traceLevel   string
	verbose      bool
	rateTrace    bool

	inputFile  string
	initScript string
	noTerm     bool

	eventsAddr string
	eventsName string
}

var c cmd

var rootCmd = &cobra.Command{
	Use:   "dmlog-monitor",
	Short: "attach to a dmlog control block and mirror firmware log output",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(c)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&c.host, "host", "localhost", "debug backend host")
	f.IntVar(&c.port, "port", 0, "debug backend port; 0 picks the backend's default")
	f.BoolVar(&c.gdb, "gdb", false, "use the GDB remote-serial backend instead of the telnet interpreter")
	f.StringVar(&c.serialDev, "serial-device", "", "serial device path; if set, the telnet backend uses serial instead of TCP")
	f.IntVar(&c.serialBaud, "serial-baud", 115200, "serial baud rate when --serial-device is set")

	f.StringVar(&c.addr, "addr", "", "target address of the control block (0xHEX)")

	f.BoolVar(&c.snapshot, "snapshot", false, "read the whole output ring in one read per iteration and drain it from that eventually-consistent local copy")
	f.BoolVar(&c.blocking, "blocking", false, "acquire BUSY and drain the output ring fully on every iteration")
	f.DurationVar(&c.pollInterval, "poll-interval", 0, "loop poll interval; 0 uses the mode's default")
	f.StringVar(&c.traceLevel, "trace-level", "info", "trace verbosity: error, warn, info, or verbose")
	f.BoolVar(&c.verbose, "verbose", false, "shorthand for --trace-level verbose")
	f.BoolVar(&c.rateTrace, "time", false, "periodically trace cumulative output throughput")

	f.StringVar(&c.inputFile, "input-file", "", "read all operator input from this file instead of stdin")
	f.StringVar(&c.initScript, "init-script", "", "feed this file's lines before falling back to stdin")
	f.BoolVar(&c.noTerm, "no-terminal", false, "never touch terminal raw/cooked mode, even if stdin is a tty")

	f.StringVar(&c.eventsAddr, "events-addr", "", "ZMQ PUB bind address for session events (e.g. tcp://*:5557); empty disables")
	f.StringVar(&c.eventsName, "events-name", "dmlog-monitor", "ZMQ topic name used for published session events")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c cmd) error {
	traceLevel := c.traceLevel
	if c.verbose {
		traceLevel = "verbose"
	}
	monitor.SetTraceLevel(monitor.ParseTraceLevel(traceLevel))

	b, err := newBackend(c)
	if err != nil {
		return err
	}

	ctrlAddr, err := parseAddr(c.addr)
	if err != nil {
		return fmt.Errorf("--addr: %w", err)
	}

	opts := []monitor.Option{monitor.WithMode(parseMode(c)), monitor.WithRateTrace(c.rateTrace)}
	if c.pollInterval > 0 {
		opts = append(opts, monitor.WithPollInterval(c.pollInterval))
	}

	in, closeIn, err := newInputSource(c)
	if err != nil {
		return err
	}
	if closeIn != nil {
		defer closeIn()
	}
	if in != nil {
		opts = append(opts, monitor.WithInput(in))
	}

	if !c.noTerm {
		if tm := monitor.NewTerminalController(int(os.Stdin.Fd())); tm != nil {
			opts = append(opts, monitor.WithTerminal(tm))
		}
	}

	if c.eventsAddr != "" {
		pub, err := events.NewPublisher(c.eventsName, c.eventsAddr)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		defer pub.Close()
		opts = append(opts, monitor.WithEvents(pub))
	}

	d := monitor.New(b, ctrlAddr, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

// newBackend constructs the configured backend.Backend implementation:
// the on-chip-debugger telnet interpreter by default, or a GDB
// remote-serial stub when --gdb is set. --port 0 picks the matching
// default (4444 for telnet, 3333 for gdb) per the documented backend
// defaults.
func newBackend(c cmd) (backend.Backend, error) {
	port := c.port
	if c.gdb {
		if port == 0 {
			port = defaultGDBPort
		}
		return gdbremote.New(fmt.Sprintf("%s:%d", c.host, port)), nil
	}
	if port == 0 {
		port = defaultTelnetPort
	}
	if c.serialDev != "" {
		return telnet.NewSerial(c.serialDev, c.serialBaud), nil
	}
	return telnet.New(fmt.Sprintf("%s:%d", c.host, port)), nil
}

// parseMode maps --snapshot/--blocking onto monitor.ReadMode; the
// default, with neither set, is ModeLive. --snapshot and --blocking are
// mutually exclusive in practice; --snapshot wins if both are set.
func parseMode(c cmd) monitor.ReadMode {
	switch {
	case c.snapshot:
		return monitor.ModeSnapshot
	case c.blocking:
		return monitor.ModeBlocking
	default:
		return monitor.ModeLive
	}
}

// parseAddr accepts a 0x-prefixed hex control block address, per --addr
// 0xHEX, falling back to decimal for convenience.
func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("a control block address is required")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// newInputSource builds the monitor input source implied by --input-file
// and --init-script; at most one of the two may be set. A nil result
// with a nil error means Driver should keep its own stdin-reading
// default.
func newInputSource(c cmd) (interface {
	ReadLine() (string, bool)
}, func(), error) {
	if c.inputFile != "" && c.initScript != "" {
		return nil, nil, fmt.Errorf("--input-file and --init-script are mutually exclusive")
	}
	if c.inputFile != "" {
		f, err := os.Open(c.inputFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open --input-file: %w", err)
		}
		return monitor.NewFileInput(f), func() { f.Close() }, nil
	}
	if c.initScript != "" {
		f, err := os.Open(c.initScript)
		if err != nil {
			return nil, nil, fmt.Errorf("open --init-script: %w", err)
		}
		return monitor.NewInitScriptInput(f), func() { f.Close() }, nil
	}
	return nil, nil, nil
}
