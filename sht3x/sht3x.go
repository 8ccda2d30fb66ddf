// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sht3x drives the Sensirion SHT30, SHT31 and SHT35 humidity and
// temperature sensors without blocking.
//
// Every measurement is a single shot, high repeatability conversion run by a
// cycle.Runner: the driver starts the conversion, yields to the scheduler for
// the conversion time and reads the result on its next turn.
//
// # Datasheet
//
// https://sensirion.com/media/documents/213E6A3B/63A5A569/Datasheet_SHT3x_DIS.pdf
package sht3x

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/sensornode/common"
	"github.com/GermanBionicSystems/sensornode/cycle"
	"github.com/GermanBionicSystems/sensornode/tick"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	// DefaultAddress is the address with ADDR tied low.
	DefaultAddress i2c.Addr = 0x44
	// AlternateAddress is the address with ADDR tied high.
	AlternateAddress i2c.Addr = 0x45
)

const (
	cmdSoftReset   uint16 = 0x30a2
	cmdMeasureHigh uint16 = 0x2400

	resetTime      = 2 * time.Millisecond
	conversionTime = 15 * time.Millisecond
	powerUpTime    = time.Millisecond

	countDivisor = float64(65535)

	minTemperature = -40*physic.Kelvin + physic.ZeroCelsius
	maxTemperature = 125*physic.Kelvin + physic.ZeroCelsius
)

// Event is passed to the Handler.
type Event = cycle.Event

// Handler is called synchronously at the end of every measurement.
type Handler func(d *Dev, e Event)

// New returns a driver for the sensor at addr on bus. The sensor is reset
// on the first turn of s, once it powered up.
func New(bus i2c.Bus, addr i2c.Addr, s tick.Scheduler) *Dev {
	d := &Dev{c: chip{d: &i2c.Dev{Bus: bus, Addr: uint16(addr)}}}
	d.r = cycle.NewRunner(d.String(), s, &d.c, powerUpTime)
	d.r.SetHandler(d.emit)
	return d
}

// Dev is a handle to a SHT3x sensor.
//
// All methods must be called from the goroutine running the scheduler.
type Dev struct {
	c       chip
	r       *cycle.Runner
	handler Handler
}

func (d *Dev) String() string {
	return fmt.Sprintf("sht3x{%s}", d.c.d)
}

// Halt implements conn.Resource. It stops the periodic measurement.
func (d *Dev) Halt() error {
	d.r.SetUpdateInterval(tick.Forever)
	return nil
}

// SetEventHandler sets the function called on every update or error.
func (d *Dev) SetEventHandler(h Handler) {
	d.handler = h
}

// SetUpdateInterval measures every interval. tick.Forever disables the
// periodic measurement.
func (d *Dev) SetUpdateInterval(interval time.Duration) {
	d.r.SetUpdateInterval(interval)
}

// Measure starts a measurement. It returns false if one is in progress.
func (d *Dev) Measure() bool {
	return d.r.Measure()
}

// Err returns the error that caused the last error event.
func (d *Dev) Err() error {
	return d.r.Err()
}

// State returns the state of the measurement cycle.
func (d *Dev) State() cycle.State {
	return d.r.State()
}

// Temperature returns the last measured temperature. ok is false before the
// first measurement and after an error.
func (d *Dev) Temperature() (t physic.Temperature, ok bool) {
	if !d.c.valid {
		return 0, false
	}
	return countToTemp(d.c.rawT), true
}

// Humidity returns the last measured relative humidity. ok is false before
// the first measurement and after an error.
func (d *Dev) Humidity() (h physic.RelativeHumidity, ok bool) {
	if !d.c.valid {
		return 0, false
	}
	return countToHumidity(d.c.rawH), true
}

// Env fills e with the last measurement. It returns false when there is none.
func (d *Dev) Env(e *physic.Env) bool {
	if !d.c.valid {
		return false
	}
	e.Temperature = countToTemp(d.c.rawT)
	e.Humidity = countToHumidity(d.c.rawH)
	e.Pressure = 0
	return true
}

// Precision returns the smallest change in readings the device can produce.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 100
	e.Humidity = physic.PercentRH / 100
	e.Pressure = 0
}

func (d *Dev) emit(e cycle.Event) {
	if d.handler != nil {
		d.handler(d, e)
	}
}

// chip is the I/O of each step of the measurement cycle.
type chip struct {
	d     *i2c.Dev
	rawT  uint16
	rawH  uint16
	valid bool
}

func (c *chip) Initialize() (time.Duration, error) {
	if err := c.command(cmdSoftReset); err != nil {
		return 0, err
	}
	return resetTime, nil
}

func (c *chip) Start() (time.Duration, error) {
	if err := c.command(cmdMeasureHigh); err != nil {
		return 0, err
	}
	return conversionTime, nil
}

func (c *chip) Collect() error {
	var r [6]byte
	if err := c.d.Tx(nil, r[:]); err != nil {
		return fmt.Errorf("sht3x: error reading %w", err)
	}
	if common.CRC8(r[:2]) != r[2] {
		return errors.New("sht3x: temperature crc error")
	}
	if common.CRC8(r[3:5]) != r[5] {
		return errors.New("sht3x: humidity crc error")
	}
	c.rawT = uint16(r[0])<<8 | uint16(r[1])
	c.rawH = uint16(r[3])<<8 | uint16(r[4])
	c.valid = true
	return nil
}

func (c *chip) Invalidate() {
	c.valid = false
}

func (c *chip) command(cmd uint16) error {
	if err := c.d.Tx([]byte{byte(cmd >> 8), byte(cmd)}, nil); err != nil {
		return fmt.Errorf("sht3x: error sending command %#04x %w", cmd, err)
	}
	return nil
}

// countToTemp converts a raw count, T = -45 + 175*count/65535.
func countToTemp(count uint16) physic.Temperature {
	val := physic.Temperature(float64(physic.Kelvin)*(-45.0+175.0*(float64(count)/countDivisor))) + physic.ZeroCelsius
	if val < minTemperature {
		val = minTemperature
	} else if val > maxTemperature {
		val = maxTemperature
	}
	return val
}

// countToHumidity converts a raw count, RH = 100*count/65535.
func countToHumidity(count uint16) physic.RelativeHumidity {
	return physic.RelativeHumidity(100.0 * float64(count) / countDivisor * float64(physic.PercentRH))
}

var (
	_ conn.Resource = &Dev{}
	_ cycle.Device  = &chip{}
)
