// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timing provides the microsecond delays and critical sections used
// by bit-banged protocols.
//
// Bit-banged drivers must never wait more than MaxBusyWait in a single call;
// anything longer goes through the scheduler.
package timing

import (
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
)

// MaxBusyWait is the longest delay a Waiter honors in a single call.
const MaxBusyWait = 2 * time.Millisecond

// Waiter delays the caller for short, precise durations.
type Waiter interface {
	Wait(d time.Duration)
}

// BusyWait spins on Clock until the delay elapsed.
//
// Sleeping is not an option at this scale: the Go runtime timer granularity
// is in the tens of microseconds at best.
type BusyWait struct {
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// Wait implements Waiter. d is clamped to [0, MaxBusyWait].
func (b *BusyWait) Wait(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > MaxBusyWait {
		d = MaxBusyWait
	}
	c := b.Clock
	if c == nil {
		c = realClock
	}
	start := c.Now()
	for c.Since(start) < d {
	}
}

// Spin is the default Waiter.
var Spin Waiter = &BusyWait{}

// Masker brackets the timing critical part of a bit slot.
//
// On a microcontroller this masks interrupts. Calls must be balanced and the
// masked section must stay within a few microseconds.
type Masker interface {
	Mask()
	Unmask()
}

// NoMask is a Masker that does nothing.
type NoMask struct{}

// Mask implements Masker.
func (NoMask) Mask() {}

// Unmask implements Masker.
func (NoMask) Unmask() {}

// ThreadMask keeps the calling goroutine on its OS thread while masked, so
// the Go scheduler does not migrate it in the middle of a slot.
type ThreadMask struct{}

// Mask implements Masker.
func (ThreadMask) Mask() { runtime.LockOSThread() }

// Unmask implements Masker.
func (ThreadMask) Unmask() { runtime.UnlockOSThread() }

var realClock = clockwork.NewRealClock()

var (
	_ Waiter = &BusyWait{}
	_ Masker = NoMask{}
	_ Masker = ThreadMask{}
)
