// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tick implements the cooperative scheduler the sensor drivers run
// on.
//
// Time is counted in milliseconds since the scheduler was created. Tasks run
// to completion on the goroutine driving the scheduler and are never
// preempted; a driver that has to wait for hardware plans its own task again
// instead of blocking.
package tick

import (
	"math"
	"time"
)

// Tick is a point in scheduler time, in milliseconds.
type Tick int64

// Never is the due tick of a task that is registered but not planned.
const Never Tick = math.MaxInt64

// Forever is the interval that disables a periodic task.
const Forever time.Duration = math.MaxInt64

// TaskID identifies a registered task.
type TaskID int

// Scheduler is the cooperative scheduler contract used by the drivers.
//
// All methods may be called from within a running task, including on the
// running task itself.
type Scheduler interface {
	// Register adds task, first due at start. Use Never to register a
	// disabled task.
	Register(task func(), start Tick) TaskID
	// Unregister removes the task. It is a no-op for unknown IDs.
	Unregister(id TaskID)
	// PlanAbsolute sets the task to be due at the given tick.
	PlanAbsolute(id TaskID, at Tick)
	// PlanRelative sets the task to be due d from now. Forever is the same as
	// PlanAbsolute(id, Never).
	PlanRelative(id TaskID, d time.Duration)
	// PlanNow sets the task to be due immediately.
	PlanNow(id TaskID)
	// Now returns the current tick.
	Now() Tick
}

// Add returns t moved forward by d, saturating at Never.
func (t Tick) Add(d time.Duration) Tick {
	if t == Never || d >= Forever {
		return Never
	}
	ms := Tick(d / time.Millisecond)
	if d%time.Millisecond != 0 && d > 0 {
		// Round up so that a task never runs before d elapsed.
		ms++
	}
	if ms > 0 && t > Never-ms {
		return Never
	}
	return t + ms
}

// Until returns the time between t and a later tick u.
func (t Tick) Until(u Tick) time.Duration {
	if u == Never {
		return Forever
	}
	if u <= t {
		return 0
	}
	return time.Duration(u-t) * time.Millisecond
}
