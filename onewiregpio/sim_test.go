// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/onewire"
)

// simLine is an open drain line with a pull-up, shared by the master and the
// simulated devices. It decodes the master's pulses on the virtual clock.
type simLine struct {
	gpiotest.Pin
	clk     clockwork.Clock
	devices []*simDevice

	// presenceStart and presenceLen describe the presence pulse relative to
	// the end of the reset pulse.
	presenceStart time.Duration
	presenceLen   time.Duration
	stuckLow      bool
	failOut       error

	driving  bool
	level    gpio.Level
	lowSince time.Time
	holdTo   time.Time
	presFrom time.Time
	presTo   time.Time
	resets   int
	slots    int
	longest  time.Duration // longest slot start pulse seen
}

func newSimLine(clk clockwork.Clock, devices ...*simDevice) *simLine {
	return &simLine{
		Pin:           gpiotest.Pin{N: "DQ", Num: 4},
		clk:           clk,
		devices:       devices,
		presenceStart: 30 * time.Microsecond,
		presenceLen:   120 * time.Microsecond,
	}
}

func (l *simLine) In(pull gpio.Pull, edge gpio.Edge) error {
	if l.driving && l.level == gpio.Low {
		now := l.clk.Now()
		l.released(now.Sub(l.lowSince), now)
	}
	l.driving = false
	return nil
}

func (l *simLine) Out(v gpio.Level) error {
	if l.failOut != nil {
		return l.failOut
	}
	if v == gpio.Low && !(l.driving && l.level == gpio.Low) {
		l.lowSince = l.clk.Now()
	}
	l.driving = true
	l.level = v
	return nil
}

func (l *simLine) Read() gpio.Level {
	now := l.clk.Now()
	switch {
	case l.stuckLow:
		return gpio.Low
	case l.driving:
		return l.level
	case now.Before(l.holdTo):
		return gpio.Low
	case !now.Before(l.presFrom) && now.Before(l.presTo):
		return gpio.Low
	}
	return gpio.High
}

func (l *simLine) released(pulse time.Duration, now time.Time) {
	if pulse >= 480*time.Microsecond {
		l.resets++
		for _, d := range l.devices {
			d.reset()
		}
		if len(l.devices) != 0 {
			l.presFrom = now.Add(l.presenceStart)
			l.presTo = l.presFrom.Add(l.presenceLen)
		}
		return
	}
	l.slots++
	if pulse > l.longest {
		l.longest = pulse
	}
	v := byte(1)
	if pulse >= 15*time.Microsecond {
		v = 0
	} else {
		for _, d := range l.devices {
			if b, ok := d.tx(); ok && b == 0 {
				v = 0
				l.holdTo = l.lowSince.Add(30 * time.Microsecond)
			}
		}
	}
	for _, d := range l.devices {
		d.slot(v)
	}
}

type simState int

const (
	stIdle simState = iota
	stROMCmd
	stReadROM
	stSearch
	stMatch
	stFunc
	stSend
	stSink
	stEchoRx
	stEchoTx
)

// simDevice models the ROM layer of a 1-wire slave and a trivial function
// layer: after a ROM command, a function command byte is answered with the
// bytes in functions, other bytes are collected in written.
//
// An echo device ignores the ROM layer and sends back every byte it receives.
type simDevice struct {
	rom       onewire.Address
	alarm     bool
	echo      bool
	functions map[byte][]byte

	state    simState
	n        int
	phase    int
	shift    uint64
	out      []byte
	commands []byte
	written  []byte
}

func (d *simDevice) reset() {
	d.n, d.phase, d.shift, d.out = 0, 0, 0, nil
	if d.echo {
		d.state = stEchoRx
	} else {
		d.state = stROMCmd
	}
}

func (d *simDevice) romBit(i int) byte {
	return byte(d.rom>>uint(i)) & 1
}

// tx returns the bit the device sends in the current slot.
func (d *simDevice) tx() (byte, bool) {
	switch d.state {
	case stReadROM:
		return d.romBit(d.n), true
	case stSearch:
		switch d.phase {
		case 0:
			return d.romBit(d.n), true
		case 1:
			return d.romBit(d.n) ^ 1, true
		}
	case stSend:
		if d.n < 8*len(d.out) {
			return (d.out[d.n/8] >> uint(d.n%8)) & 1, true
		}
	case stEchoTx:
		return byte(d.shift>>uint(d.n)) & 1, true
	}
	return 0, false
}

// slot consumes one slot where the line read v.
func (d *simDevice) slot(v byte) {
	switch d.state {
	case stROMCmd:
		if d.rx(v, 8) {
			d.n = 0
			switch byte(d.shift) {
			case 0x33:
				d.state = stReadROM
			case 0xf0:
				d.state = stSearch
			case 0xec:
				d.state = stIdle
				if d.alarm {
					d.state = stSearch
				}
			case 0x55:
				d.state = stMatch
			case 0xcc:
				d.state = stFunc
			default:
				d.state = stIdle
			}
			d.shift = 0
		}
	case stReadROM:
		if d.n++; d.n == 64 {
			d.n = 0
			d.state = stFunc
		}
	case stSearch:
		if d.phase < 2 {
			d.phase++
			return
		}
		d.phase = 0
		if v != d.romBit(d.n) {
			d.state = stIdle
			return
		}
		if d.n++; d.n == 64 {
			d.n = 0
			d.state = stFunc
		}
	case stMatch:
		if v != d.romBit(d.n) {
			d.state = stIdle
			return
		}
		if d.n++; d.n == 64 {
			d.n = 0
			d.state = stFunc
		}
	case stFunc:
		if d.rx(v, 8) {
			cmd := byte(d.shift)
			d.commands = append(d.commands, cmd)
			d.n, d.shift = 0, 0
			if resp, ok := d.functions[cmd]; ok {
				d.out = resp
				d.state = stSend
			} else {
				d.state = stSink
			}
		}
	case stSend:
		d.n++
	case stSink:
		if d.rx(v, 8) {
			d.written = append(d.written, byte(d.shift))
			d.n, d.shift = 0, 0
		}
	case stEchoRx:
		if d.rx(v, 8) {
			d.n = 0
			d.state = stEchoTx
		}
	case stEchoTx:
		if d.n++; d.n == 8 {
			d.n, d.shift = 0, 0
			d.state = stEchoRx
		}
	}
}

// rx shifts v in, LSB first, and reports when bits were received.
func (d *simDevice) rx(v byte, bits int) bool {
	d.shift |= uint64(v&1) << uint(d.n)
	d.n++
	return d.n == bits
}
