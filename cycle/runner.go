// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cycle

import (
	"time"

	"github.com/GermanBionicSystems/sensornode/tick"
	"github.com/golang/glog"
)

// Device is the I/O of a driver following the measurement cycle.
//
// Each method performs short, non-blocking I/O and returns how long the
// hardware needs before the next step.
type Device interface {
	// Initialize brings the device to a known state.
	Initialize() (time.Duration, error)
	// Start triggers a conversion.
	Start() (time.Duration, error)
	// Collect reads the converted values.
	Collect() error
	// Invalidate discards the values read so far.
	Invalidate()
}

// Event is reported to the Handler of a Runner.
type Event int

// Valid Event values.
const (
	EventUpdate Event = iota
	EventError
)

func (e Event) String() string {
	if e == EventUpdate {
		return "Update"
	}
	return "Error"
}

// Runner runs the measurement cycle of a Device on a scheduler.
//
// It owns two tasks: the cycle itself and the optional periodic measurement
// request. All methods must be called from the scheduler goroutine.
type Runner struct {
	s        tick.Scheduler
	dev      Device
	name     string
	handler  func(Event)
	state    State
	active   bool
	ready    tick.Tick
	interval time.Duration
	err      error
	step     tick.TaskID
	periodic tick.TaskID
}

// NewRunner registers the tasks of dev on s. The device is initialized
// startDelay from now, whether a measurement was requested or not.
func NewRunner(name string, s tick.Scheduler, dev Device, startDelay time.Duration) *Runner {
	r := &Runner{s: s, dev: dev, name: name, interval: tick.Forever}
	r.ready = s.Now().Add(startDelay)
	r.step = s.Register(r.run, r.ready)
	r.periodic = s.Register(r.request, tick.Never)
	return r
}

// SetHandler sets the function called synchronously on every event.
func (r *Runner) SetHandler(h func(Event)) {
	r.handler = h
}

// SetUpdateInterval requests a measurement every d. tick.Forever stops the
// periodic requests; Measure still works.
//
// A finite interval also requests a measurement right away.
func (r *Runner) SetUpdateInterval(d time.Duration) {
	r.interval = d
	if d == tick.Forever {
		r.s.PlanAbsolute(r.periodic, tick.Never)
		return
	}
	r.s.PlanRelative(r.periodic, d)
	r.Measure()
}

// UpdateInterval returns the interval set with SetUpdateInterval.
func (r *Runner) UpdateInterval() time.Duration {
	return r.interval
}

// Measure requests a measurement. It returns false if one is already in
// progress.
func (r *Runner) Measure() bool {
	if r.active {
		return false
	}
	r.active = true
	r.s.PlanAbsolute(r.step, r.ready)
	return true
}

// Active reports whether a measurement is in progress.
func (r *Runner) Active() bool {
	return r.active
}

// State returns the next state to run.
func (r *Runner) State() State {
	return r.state
}

// Err returns the error that caused the last EventError.
func (r *Runner) Err() error {
	return r.err
}

// Close unregisters the tasks.
func (r *Runner) Close() {
	r.s.Unregister(r.step)
	r.s.Unregister(r.periodic)
}

func (r *Runner) request() {
	r.Measure()
	r.s.PlanRelative(r.periodic, r.interval)
}

func (r *Runner) run() {
	for {
		o := Outcome{Active: r.active}
		switch r.state {
		case StateInitialize:
			o.Delay, o.Err = r.dev.Initialize()
		case StateMeasure:
			o.Delay, o.Err = r.dev.Start()
		case StateRead:
			o.Err = r.dev.Collect()
		}
		if o.Err != nil {
			r.err = o.Err
			if glog.V(2) {
				glog.Infof("%s: %s failed: %v", r.name, r.state, o.Err)
			}
		}
		next, effects := Transition(r.state, o)
		r.state = next
		if !r.apply(effects) {
			return
		}
	}
}

// apply executes effects and reports whether the cycle continues in place.
func (r *Runner) apply(effects []Effect) bool {
	cont := false
	for _, e := range effects {
		switch e.Kind {
		case Continue:
			cont = true
		case ScheduleAfter:
			r.s.PlanRelative(r.step, e.Delay)
		case ReadyAfter:
			r.ready = r.s.Now().Add(e.Delay)
		case ClearActive:
			r.active = false
		case Invalidate:
			r.dev.Invalidate()
		case EmitUpdate:
			r.emit(EventUpdate)
		case EmitError:
			r.emit(EventError)
		}
	}
	return cont
}

func (r *Runner) emit(e Event) {
	if r.handler != nil {
		r.handler(e)
	}
}
