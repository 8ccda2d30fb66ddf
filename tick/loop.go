// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tick

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
)

// Loop is a Scheduler backed by a clock.
//
// Drive it with Run, or call RunPending from an existing main loop.
type Loop struct {
	clock clockwork.Clock
	start time.Time
	wake  chan struct{}

	mu    sync.Mutex
	tasks map[TaskID]*task
	queue taskQueue
	next  TaskID
}

// NewLoop returns a Loop counting ticks from now on clock. A nil clock uses
// the real clock.
func NewLoop(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		start: clock.Now(),
		wake:  make(chan struct{}, 1),
		tasks: map[TaskID]*task{},
	}
}

// Clock returns the clock the loop counts ticks on.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Now implements Scheduler.
func (l *Loop) Now() Tick {
	return Tick(l.clock.Since(l.start) / time.Millisecond)
}

// Register implements Scheduler.
func (l *Loop) Register(fn func(), start Tick) TaskID {
	l.mu.Lock()
	l.next++
	t := &task{id: l.next, fn: fn, due: start}
	l.tasks[t.id] = t
	heap.Push(&l.queue, t)
	l.mu.Unlock()
	l.signal()
	return t.id
}

// Unregister implements Scheduler.
func (l *Loop) Unregister(id TaskID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tasks[id]
	if !ok {
		return
	}
	delete(l.tasks, id)
	heap.Remove(&l.queue, t.index)
}

// PlanAbsolute implements Scheduler.
func (l *Loop) PlanAbsolute(id TaskID, at Tick) {
	l.mu.Lock()
	t, ok := l.tasks[id]
	if ok {
		t.due = at
		t.pending = false
		heap.Fix(&l.queue, t.index)
	}
	l.mu.Unlock()
	if ok {
		l.signal()
	}
}

// PlanRelative implements Scheduler.
func (l *Loop) PlanRelative(id TaskID, d time.Duration) {
	l.PlanAbsolute(id, l.Now().Add(d))
}

// PlanNow implements Scheduler.
func (l *Loop) PlanNow(id TaskID) {
	l.PlanAbsolute(id, l.Now())
}

// Due returns when the task is due next, or Never.
func (l *Loop) Due(id TaskID) Tick {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.tasks[id]; ok {
		return t.due
	}
	return Never
}

// RunPending runs every task due at the current tick once, earliest first.
// Tasks registered first win ties.
//
// A task is disabled (due at Never) while it runs; it has to plan itself
// again to run periodically. Tasks planned during this call run on the next
// call at the earliest.
func (l *Loop) RunPending() int {
	now := l.Now()
	l.mu.Lock()
	var batch []*task
	for len(l.queue) > 0 && l.queue[0].due <= now {
		t := l.queue[0]
		t.due = Never
		t.pending = true
		heap.Fix(&l.queue, 0)
		batch = append(batch, t)
	}
	l.mu.Unlock()

	ran := 0
	for _, t := range batch {
		l.mu.Lock()
		_, alive := l.tasks[t.id]
		run := alive && t.pending
		t.pending = false
		l.mu.Unlock()
		if !run {
			continue
		}
		if glog.V(3) {
			glog.Infof("tick: %d run task %d", now, t.id)
		}
		t.fn()
		ran++
	}
	return ran
}

// Run drives the loop until ctx is done, sleeping until the next task is due
// or the plan changes.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-l.wake:
		default:
		}
		l.RunPending()
		l.mu.Lock()
		due := Never
		if len(l.queue) > 0 {
			due = l.queue[0].due
		}
		l.mu.Unlock()

		var timeout <-chan time.Time
		var timer clockwork.Timer
		if due != Never {
			timer = l.clock.NewTimer(l.Now().Until(due))
			timeout = timer.Chan()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-timeout:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

var _ Scheduler = &Loop{}

//

type task struct {
	id      TaskID
	fn      func()
	due     Tick
	index   int
	pending bool
}

// taskQueue is a min-heap of tasks ordered by due tick, then by ID.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due == q[j].due {
		return q[i].id < q[j].id
	}
	return q[i].due < q[j].due
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
