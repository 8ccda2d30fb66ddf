// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timingtest implements fakes for package timing driven by a fake
// clock, so bit-banged protocols can be simulated in virtual time.
package timingtest

import (
	"sync"
	"time"

	"github.com/GermanBionicSystems/sensornode/timing"
	"github.com/jonboulle/clockwork"
)

// Waiter advances Clock instead of waiting.
type Waiter struct {
	Clock clockwork.FakeClock

	mu      sync.Mutex
	calls   int
	total   time.Duration
	longest time.Duration
}

// NewWaiter returns a Waiter on a new fake clock.
func NewWaiter() *Waiter {
	return &Waiter{Clock: clockwork.NewFakeClock()}
}

// Wait implements timing.Waiter. It clamps d like timing.BusyWait.
func (w *Waiter) Wait(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > timing.MaxBusyWait {
		d = timing.MaxBusyWait
	}
	w.mu.Lock()
	w.calls++
	w.total += d
	if d > w.longest {
		w.longest = d
	}
	w.mu.Unlock()
	w.Clock.Advance(d)
}

// Calls returns the number of non-zero waits.
func (w *Waiter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// Total returns the sum of all waits.
func (w *Waiter) Total() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Longest returns the longest single wait.
func (w *Waiter) Longest() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.longest
}

// Masker records critical sections. It panics on unbalanced calls.
type Masker struct {
	// Clock, when set, is used to measure how long the sections lasted.
	Clock clockwork.Clock

	mu      sync.Mutex
	depth   int
	count   int
	since   time.Time
	longest time.Duration
}

// Mask implements timing.Masker.
func (m *Masker) Mask() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 && m.Clock != nil {
		m.since = m.Clock.Now()
	}
	m.depth++
	m.count++
}

// Unmask implements timing.Masker.
func (m *Masker) Unmask() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		panic("timingtest: Unmask without Mask")
	}
	m.depth--
	if m.depth == 0 && m.Clock != nil {
		if d := m.Clock.Since(m.since); d > m.longest {
			m.longest = d
		}
	}
}

// Masked reports whether a section is open.
func (m *Masker) Masked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth != 0
}

// Count returns the number of sections entered.
func (m *Masker) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Longest returns the longest section measured on Clock.
func (m *Masker) Longest() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.longest
}

var (
	_ timing.Waiter = &Waiter{}
	_ timing.Masker = &Masker{}
)
