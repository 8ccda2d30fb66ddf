// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cycle implements the measurement cycle shared by the scheduler
// driven sensor drivers.
//
// A cycle is initialize, start a measurement, wait for the conversion, read
// it and report it. Transition is the pure description of the cycle; Runner
// executes it on a tick.Scheduler for a Device.
package cycle

import (
	"fmt"
	"time"
)

// State is the step a driver executes on its next run.
type State int

// Valid State values.
const (
	StateInitialize State = iota
	StateMeasure
	StateRead
	StateUpdate
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitialize:
		return "Initialize"
	case StateMeasure:
		return "Measure"
	case StateRead:
		return "Read"
	case StateUpdate:
		return "Update"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is what happened while executing a state.
type Outcome struct {
	// Err is set when the I/O of the state failed.
	Err error
	// Delay is how long the device needs before the next step can run.
	Delay time.Duration
	// Active is set when a measurement was requested.
	Active bool
}

// EffectKind is the kind of an Effect.
type EffectKind int

// Valid EffectKind values.
const (
	// Continue runs the next state immediately, in the same task run.
	Continue EffectKind = iota
	// ScheduleAfter runs the next state Delay from now.
	ScheduleAfter
	// ReadyAfter sets the earliest time a measurement may start to Delay from
	// now.
	ReadyAfter
	// ClearActive ends the requested measurement.
	ClearActive
	// Invalidate discards the last values read.
	Invalidate
	// EmitUpdate reports a new measurement.
	EmitUpdate
	// EmitError reports a failure.
	EmitError
)

func (k EffectKind) String() string {
	switch k {
	case Continue:
		return "Continue"
	case ScheduleAfter:
		return "ScheduleAfter"
	case ReadyAfter:
		return "ReadyAfter"
	case ClearActive:
		return "ClearActive"
	case Invalidate:
		return "Invalidate"
	case EmitUpdate:
		return "EmitUpdate"
	case EmitError:
		return "EmitError"
	default:
		return fmt.Sprintf("EffectKind(%d)", int(k))
	}
}

// Effect is an action the runner executes after a transition, in order.
//
// Without Continue or ScheduleAfter the runner goes idle until the next
// measurement request.
type Effect struct {
	Kind  EffectKind
	Delay time.Duration
}

func (e Effect) String() string {
	if e.Kind == ScheduleAfter || e.Kind == ReadyAfter {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Delay)
	}
	return e.Kind.String()
}

// Transition returns the state following s given the outcome of executing it,
// and the effects to apply.
//
// Any failed I/O moves to StateError and continues, so the error is reported
// in the same run. StateError reports, ends the measurement and goes back to
// StateInitialize without scheduling anything: the driver heals on the next
// measurement request. A full cycle ends in StateUpdate, which reports and
// leaves the driver in StateMeasure.
func Transition(s State, o Outcome) (State, []Effect) {
	switch s {
	case StateInitialize:
		if o.Err != nil {
			return StateError, []Effect{{Kind: Continue}}
		}
		e := []Effect{{Kind: ReadyAfter, Delay: o.Delay}}
		if o.Active {
			e = append(e, Effect{Kind: ScheduleAfter, Delay: o.Delay})
		}
		return StateMeasure, e
	case StateMeasure:
		if o.Err != nil {
			return StateError, []Effect{{Kind: Continue}}
		}
		return StateRead, []Effect{{Kind: ScheduleAfter, Delay: o.Delay}}
	case StateRead:
		if o.Err != nil {
			return StateError, []Effect{{Kind: Continue}}
		}
		return StateUpdate, []Effect{{Kind: Continue}}
	case StateUpdate:
		return StateMeasure, []Effect{{Kind: ClearActive}, {Kind: EmitUpdate}}
	default:
		return StateInitialize, []Effect{{Kind: Invalidate}, {Kind: ClearActive}, {Kind: EmitError}}
	}
}
