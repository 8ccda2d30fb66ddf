// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hx711

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// powerDownTime is how long the clock has to stay high for the chip to power
// down.
const powerDownTime = 60 * time.Microsecond

// simChip emulates the serial interface of a HX711 on a virtual clock.
type simChip struct {
	clk clockwork.Clock

	// raw holds the conversions to return, the last one repeating.
	raw        []int32
	neverReady bool
	failClock  bool
	// convTime is how long a conversion takes after a read or a wake up.
	convTime time.Duration

	readyAt   time.Time

	i         int
	bits      int
	clockHigh bool
	highSince time.Time

	gains      []int
	powerDowns int
}

func newSim(clk clockwork.Clock, raw ...int32) (*simChip, *dataPin, *clockPin) {
	c := &simChip{clk: clk, raw: raw}
	return c, &dataPin{Pin: gpiotest.Pin{N: "DOUT", Num: 5}, c: c}, &clockPin{Pin: gpiotest.Pin{N: "PD_SCK", Num: 6}, c: c}
}

func (c *simChip) asleep() bool {
	return c.clockHigh && c.clk.Since(c.highSince) >= powerDownTime
}

func (c *simChip) current() int32 {
	if c.i >= len(c.raw) {
		return c.raw[len(c.raw)-1]
	}
	return c.raw[c.i]
}

// settle completes the conversion read so far, if the extra gain pulses were
// sent.
func (c *simChip) settle() {
	if c.bits > 24 {
		c.gains = append(c.gains, c.bits-24)
		c.i++
		c.bits = 0
		c.readyAt = c.clk.Now().Add(c.convTime)
	}
}

func (c *simChip) read() gpio.Level {
	if c.asleep() {
		return gpio.High
	}
	if c.clockHigh {
		if c.bits >= 1 && c.bits <= 24 {
			return gpio.Level(uint32(c.current())>>uint(24-c.bits)&1 != 0)
		}
		return gpio.High
	}
	c.settle()
	if c.neverReady || len(c.raw) == 0 || c.bits != 0 || c.clk.Now().Before(c.readyAt) {
		return gpio.High
	}
	return gpio.Low
}

func (c *simChip) out(l gpio.Level) error {
	if c.failClock {
		return errors.New("sim: clock pin failed")
	}
	switch {
	case l == gpio.High && !c.clockHigh:
		c.clockHigh = true
		c.highSince = c.clk.Now()
		c.bits++
	case l == gpio.Low && c.clockHigh:
		if c.asleep() {
			// The rising edge that started the power down was counted as a
			// bit. Power down resets the chip and aborts the conversion.
			if c.bits > 25 {
				c.gains = append(c.gains, c.bits-25)
				c.i++
			}
			c.powerDowns++
			c.bits = 0
			c.readyAt = c.clk.Now().Add(c.convTime)
		}
		c.clockHigh = false
	}
	return nil
}

type dataPin struct {
	gpiotest.Pin
	c *simChip
}

func (p *dataPin) Read() gpio.Level {
	return p.c.read()
}

type clockPin struct {
	gpiotest.Pin
	c *simChip
}

func (p *clockPin) Out(l gpio.Level) error {
	if err := p.c.out(l); err != nil {
		return err
	}
	return p.Pin.Out(l)
}
