// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"fmt"
	"time"

	"github.com/GermanBionicSystems/sensornode/cycle"
	"github.com/GermanBionicSystems/sensornode/tick"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Handler is called synchronously at the end of every measurement.
type Handler func(s *Sensor, e cycle.Event)

// NewSensor returns a sensor measured by a cycle.Runner on s.
//
// Unlike New, it does not talk to the device: the configuration happens on
// the first turn of the scheduler and again after every error.
func NewSensor(o onewire.Bus, addr onewire.Address, resolutionBits int, s tick.Scheduler) (*Sensor, error) {
	d, err := newDev(o, addr, resolutionBits)
	if err != nil {
		return nil, err
	}
	sn := &Sensor{d: d}
	sn.r = cycle.NewRunner(d.String(), s, (*sensorIO)(sn), 0)
	sn.r.SetHandler(sn.emit)
	return sn, nil
}

// Sensor is a DS18B20 measured without blocking.
//
// All methods must be called from the goroutine running the scheduler.
type Sensor struct {
	d       *Dev
	r       *cycle.Runner
	handler Handler
	temp    physic.Temperature
	valid   bool
}

func (s *Sensor) String() string {
	return fmt.Sprintf("Sensor{%s}", s.d)
}

// Dev returns the synchronous handle to the device.
func (s *Sensor) Dev() *Dev {
	return s.d
}

// Halt implements conn.Resource. It stops the periodic measurement.
func (s *Sensor) Halt() error {
	s.r.SetUpdateInterval(tick.Forever)
	return nil
}

// SetEventHandler sets the function called on every update or error.
func (s *Sensor) SetEventHandler(h Handler) {
	s.handler = h
}

// SetUpdateInterval measures every interval. tick.Forever disables the
// periodic measurement.
func (s *Sensor) SetUpdateInterval(interval time.Duration) {
	s.r.SetUpdateInterval(interval)
}

// Measure starts a conversion. It returns false if one is in progress.
func (s *Sensor) Measure() bool {
	return s.r.Measure()
}

// Err returns the error that caused the last error event.
func (s *Sensor) Err() error {
	return s.r.Err()
}

// Temperature returns the last measured temperature. ok is false before the
// first measurement and after an error.
func (s *Sensor) Temperature() (t physic.Temperature, ok bool) {
	return s.temp, s.valid
}

func (s *Sensor) emit(e cycle.Event) {
	if s.handler != nil {
		s.handler(s, e)
	}
}

// sensorIO implements cycle.Device.
type sensorIO Sensor

func (s *sensorIO) Initialize() (time.Duration, error) {
	return s.d.configure()
}

func (s *sensorIO) Start() (time.Duration, error) {
	if err := s.d.convert(); err != nil {
		return 0, err
	}
	return conversionTime(s.d.resolution), nil
}

func (s *sensorIO) Collect() error {
	t, err := s.d.LastTemp()
	if err != nil {
		return err
	}
	s.temp = t
	s.valid = true
	return nil
}

func (s *sensorIO) Invalidate() {
	s.valid = false
}

var (
	_ conn.Resource = &Sensor{}
	_ cycle.Device  = &sensorIO{}
)
