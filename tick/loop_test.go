// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tick

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
)

func TestTick_Add(t *testing.T) {
	data := []struct {
		t    Tick
		d    time.Duration
		want Tick
	}{
		{0, 0, 0},
		{0, time.Millisecond, 1},
		{10, 1500 * time.Microsecond, 12},
		{10, time.Second, 1010},
		{10, Forever, Never},
		{Never, time.Millisecond, Never},
		{Never - 1, time.Hour, Never},
	}
	for i, line := range data {
		if got := line.t.Add(line.d); got != line.want {
			t.Errorf("#%d: %d.Add(%s) = %d, want %d", i, line.t, line.d, got, line.want)
		}
	}
}

func TestTick_Until(t *testing.T) {
	if d := Tick(5).Until(15); d != 10*time.Millisecond {
		t.Fatal(d)
	}
	if d := Tick(15).Until(5); d != 0 {
		t.Fatal(d)
	}
	if d := Tick(15).Until(Never); d != Forever {
		t.Fatal(d)
	}
}

func TestLoop_RunPending_order(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := NewLoop(clk)
	var got []string
	l.Register(func() { got = append(got, "late") }, 20)
	l.Register(func() { got = append(got, "a") }, 10)
	l.Register(func() { got = append(got, "b") }, 10)
	l.Register(func() { got = append(got, "never") }, Never)

	if n := l.RunPending(); n != 0 {
		t.Fatalf("ran %d tasks at tick 0", n)
	}
	clk.Advance(10 * time.Millisecond)
	if n := l.RunPending(); n != 2 {
		t.Fatalf("ran %d tasks at tick 10", n)
	}
	clk.Advance(time.Hour)
	l.RunPending()
	if diff := cmp.Diff([]string{"a", "b", "late"}, got); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}

func TestLoop_periodic(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := NewLoop(clk)
	var runs []Tick
	var id TaskID
	id = l.Register(func() {
		runs = append(runs, l.Now())
		l.PlanRelative(id, 100*time.Millisecond)
	}, 0)
	for range 5 {
		l.RunPending()
		clk.Advance(50 * time.Millisecond)
	}
	if diff := cmp.Diff([]Tick{0, 100, 200}, runs); diff != "" {
		t.Fatalf("runs (-want +got):\n%s", diff)
	}
}

func TestLoop_disabledWhileRunning(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := NewLoop(clk)
	runs := 0
	var id TaskID
	id = l.Register(func() {
		runs++
		if d := l.Due(id); d != Never {
			t.Errorf("due while running = %d", d)
		}
	}, 0)
	l.RunPending()
	clk.Advance(time.Second)
	l.RunPending()
	if runs != 1 {
		t.Fatalf("task without replan ran %d times", runs)
	}
}

func TestLoop_PlanNow_fromTask(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := NewLoop(clk)
	runs := 0
	var id TaskID
	id = l.Register(func() {
		runs++
		l.PlanNow(id)
	}, 0)
	l.RunPending()
	if runs != 1 {
		t.Fatalf("PlanNow from the task itself ran it %d times in one pass", runs)
	}
	l.RunPending()
	if runs != 2 {
		t.Fatalf("runs = %d", runs)
	}
}

func TestLoop_replanOtherInBatch(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := NewLoop(clk)
	var got []string
	var second TaskID
	l.Register(func() {
		got = append(got, "first")
		l.PlanRelative(second, time.Second)
	}, 0)
	second = l.Register(func() { got = append(got, "second") }, 0)
	l.RunPending()
	if diff := cmp.Diff([]string{"first"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if d := l.Due(second); d != 1000 {
		t.Fatalf("second due at %d", d)
	}
}

func TestLoop_Unregister(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := NewLoop(clk)
	runs := 0
	var b TaskID
	l.Register(func() { l.Unregister(b) }, 0)
	b = l.Register(func() { runs++ }, 0)
	l.RunPending()
	if runs != 0 {
		t.Fatal("unregistered task ran")
	}
	l.Unregister(b)
	l.Unregister(42)
	l.PlanNow(b)
	if d := l.Due(b); d != Never {
		t.Fatalf("Due(unknown) = %d", d)
	}
}

func TestLoop_Run(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := NewLoop(clk)
	fired := make(chan Tick, 1)
	l.Register(func() { fired <- l.Now() }, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	clk.BlockUntil(1)
	clk.Advance(10 * time.Millisecond)
	select {
	case now := <-fired:
		if now != 10 {
			t.Fatalf("ran at %d", now)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v", err)
	}
}

func TestLoop_Run_wakesOnPlan(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := NewLoop(clk)
	fired := make(chan struct{}, 1)
	id := l.Register(func() { fired <- struct{}{} }, Never)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.PlanNow(id)
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("task planned from another goroutine did not run")
	}
}
