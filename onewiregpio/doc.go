// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewiregpio implements a 1-wire bus master by bit-banging a single
// open drain GPIO pin.
//
// Every slot is timed with busy waits of at most a few hundred microseconds;
// the longest, the reset pulse, lasts about a millisecond. Only the few
// microseconds where the master holds the line low at the start of a slot
// run inside a timing.Masker critical section.
//
// # Datasheet
//
// https://www.analog.com/en/resources/technical-articles/1wire-communication-through-software.html
package onewiregpio
