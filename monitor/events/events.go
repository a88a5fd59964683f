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
// A one-way ZeroMQ PUB publisher for monitor session events, so an
// external observer (a dashboard, a test harness) can watch a session's
// input-requested, file-transfer and desync transitions without
// parsing the monitor's trace output. Adapted from the DuT channel's
// JSON event-message envelope, dropped from REQ/REP to PUB/SUB since
// nobody replies to a monitor event.

package events

import (
	"encoding/json"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// evtMsg is the JSON envelope published for every event, named after
// and shaped like the request half of the DuT channel's dutMsg.
type evtMsg struct {
	EvtName string      `json:"evt_name"`
	Time    string      `json:"time"`
	Args    interface{} `json:"args,omitempty"`
}

// Publisher publishes monitor session events over a ZeroMQ PUB socket.
// The zero value is not usable; construct one with NewPublisher.
type Publisher struct {
	name string
	sock *zmq.Socket
}

// NewPublisher creates a PUB socket bound to addr (e.g.
// "tcp://*:5557") and returns a Publisher that will prefix every
// message with name as the ZMQ topic, so subscribers can filter by
// session when more than one monitor instance publishes to the same
// endpoint.
func NewPublisher(name, addr string) (*Publisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("events: create socket: %w", err)
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("events: bind %s: %w", addr, err)
	}
	return &Publisher{name: name, sock: sock}, nil
}

// Close releases the underlying socket.
func (p *Publisher) Close() error {
	if p.sock == nil {
		return nil
	}
	return p.sock.Close()
}

// Publish sends one event message on the topic p.name. Publish is
// best-effort: a PUB socket never blocks a slow or absent subscriber,
// and a send failure here is not something the monitor's main loop
// should treat as fatal, so marshal and send errors are silently
// dropped: Publish returns nothing and logs nothing, so monitor/events
// carries no dependency on monitor's logging.
func (p *Publisher) Publish(evtName string, args interface{}) {
	msg := evtMsg{EvtName: evtName, Time: time.Now().UTC().Format(time.RFC3339Nano), Args: args}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_, _ = p.sock.SendMessage(p.name, data)
}
