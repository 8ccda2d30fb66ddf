// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package timing

import (
	"testing"
	"time"
)

func TestBusyWait(t *testing.T) {
	b := &BusyWait{}
	start := time.Now()
	b.Wait(200 * time.Microsecond)
	if d := time.Since(start); d < 200*time.Microsecond {
		t.Fatalf("waited only %s", d)
	}
}

func TestBusyWait_clamped(t *testing.T) {
	b := &BusyWait{}
	start := time.Now()
	b.Wait(time.Minute)
	if d := time.Since(start); d >= time.Second {
		t.Fatalf("waited %s, more than MaxBusyWait", d)
	}
	b.Wait(-time.Second)
}

func TestMaskers(t *testing.T) {
	for _, m := range []Masker{NoMask{}, ThreadMask{}} {
		m.Mask()
		m.Unmask()
	}
}
