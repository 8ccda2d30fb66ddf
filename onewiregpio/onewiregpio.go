// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/sensornode/owsearch"
	"github.com/GermanBionicSystems/sensornode/timing"
	"github.com/golang/glog"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// Timing holds the slot timings, all relative to the previous line change.
type Timing struct {
	ReleasePoll     time.Duration // wait between checks that the line is idle
	ReleaseRetries  int           // checks before the bus is reported shorted
	ResetLow        time.Duration // reset pulse, t_RSTL ≥ 480µs
	PresenceDelay   time.Duration // release to first presence sample
	PresenceSlice   time.Duration // presence sampling period
	PresenceSamples int           // presence samples before giving up
	ResetRecovery   time.Duration // tail of the reset, t_RSTH
	SlotLow         time.Duration // start of a read or write-1 slot, 1µs ≤ t_LOW1 < 15µs
	Write1Recovery  time.Duration // rest of a write-1 slot
	Write0Low       time.Duration // write-0 slot, 60µs ≤ t_LOW0 < 120µs
	Write0Recovery  time.Duration // rest of a write-0 slot
	ReadSample      time.Duration // release to sample in a read slot, < 15µs total
	ReadRecovery    time.Duration // rest of a read slot
}

// DefaultTiming is the standard speed timing.
//
// Presence is sampled 60µs after the release and up to 12µs later, in the
// window where t_PDHIGH (15..60µs) is over and t_PDLOW (60..240µs) holds
// the line low for any compliant device.
var DefaultTiming = Timing{
	ReleasePoll:     2 * time.Microsecond,
	ReleaseRetries:  125,
	ResetLow:        480 * time.Microsecond,
	PresenceDelay:   60 * time.Microsecond,
	PresenceSlice:   4 * time.Microsecond,
	PresenceSamples: 4,
	ResetRecovery:   410 * time.Microsecond,
	SlotLow:         3 * time.Microsecond,
	Write1Recovery:  60 * time.Microsecond,
	Write0Low:       55 * time.Microsecond,
	Write0Recovery:  8 * time.Microsecond,
	ReadSample:      8 * time.Microsecond,
	ReadRecovery:    50 * time.Microsecond,
}

// Opts contains options to pass to the constructor.
type Opts struct {
	Timing Timing
	// Pull is the pull applied while the line is released. The bus normally
	// relies on an external 4.7kΩ resistor.
	Pull   gpio.Pull
	Waiter timing.Waiter
	Masker timing.Masker
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Timing: DefaultTiming,
	Pull:   gpio.Float,
	Waiter: timing.Spin,
	Masker: timing.ThreadMask{},
}

// New returns a 1-wire bus master bit-banged on the open drain pin q.
//
// The returned object implements onewire.Bus, onewire.BusSearcher and
// onewire.Pins.
func New(q gpio.PinIO, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{q: q, t: opts.Timing, pull: opts.Pull, w: opts.Waiter, m: opts.Masker}
	if d.t == (Timing{}) {
		d.t = DefaultTiming
	}
	if d.w == nil {
		d.w = timing.Spin
	}
	if d.m == nil {
		d.m = DefaultOpts.Masker
	}
	if d.t.ReleaseRetries <= 0 || d.t.PresenceSamples <= 0 {
		return nil, fmt.Errorf("onewiregpio: invalid timing %+v", d.t)
	}
	if err := q.In(d.pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("onewiregpio: failed to release %s: %w", q, err)
	}
	d.search.Bus = d
	return d, nil
}

// Dev is a 1-wire bus master on a GPIO pin.
//
// Dev implements the same persistent error model as the I²C bridged masters:
// once the pin fails to switch, the error is returned on every call. Errors
// on the 1-wire bus itself, like a missing presence pulse, are not persistent
// and implement onewire.BusError.
type Dev struct {
	sync.Mutex
	q    gpio.PinIO
	t    Timing
	pull gpio.Pull
	w    timing.Waiter
	m    timing.Masker

	// searchMu guards search. It is separate from the bus lock because the
	// searcher calls back into Reset, Tx and SearchTriplet.
	searchMu sync.Mutex
	search   owsearch.Searcher
	err      error
}

func (d *Dev) String() string {
	return fmt.Sprintf("onewiregpio{%s}", d.q)
}

// Halt implements conn.Resource. It releases the line.
func (d *Dev) Halt() error {
	d.Lock()
	defer d.Unlock()
	d.release()
	return d.err
}

// Q implements onewire.Pins.
func (d *Dev) Q() gpio.PinIO {
	return d.q
}

// Reset issues a reset pulse and returns true if any device answered with a
// presence pulse.
//
// The line must be idle first; if a device keeps it low past the release
// timeout, Reset returns an error implementing onewire.ShortedBusError.
func (d *Dev) Reset() (bool, error) {
	d.Lock()
	defer d.Unlock()
	return d.reset()
}

// WriteBit writes the lowest bit of b in a single slot.
func (d *Dev) WriteBit(b byte) error {
	d.Lock()
	defer d.Unlock()
	d.writeBit(b)
	return d.err
}

// ReadBit reads a single slot.
func (d *Dev) ReadBit() (byte, error) {
	d.Lock()
	defer d.Unlock()
	b := d.readBit()
	return b, d.err
}

// WriteByte writes b, least significant bit first.
func (d *Dev) WriteByte(b byte) error {
	d.Lock()
	defer d.Unlock()
	d.writeByte(b)
	return d.err
}

// ReadByte reads a byte, least significant bit first.
func (d *Dev) ReadByte() (byte, error) {
	d.Lock()
	defer d.Unlock()
	b := d.readByte()
	return b, d.err
}

// Tx performs a bus transaction: a reset, the bytes of w then reading r.
//
// With onewire.StrongPullup the line is actively driven high once the
// transaction is done, powering parasitic devices until the next call.
func (d *Dev) Tx(w, r []byte, power onewire.Pullup) error {
	d.Lock()
	defer d.Unlock()
	present, err := d.reset()
	if err != nil {
		return err
	}
	if !present {
		return noDevicesError("onewiregpio: no device present")
	}
	for _, b := range w {
		d.writeByte(b)
	}
	for i := range r {
		r[i] = d.readByte()
	}
	if power == onewire.StrongPullup && d.err == nil {
		d.err = d.q.Out(gpio.High)
	}
	return d.err
}

// Search returns the address of every device on the bus, or only of the ones
// in alarm state.
func (d *Dev) Search(alarmOnly bool) ([]onewire.Address, error) {
	s := owsearch.Searcher{Bus: d, AlarmOnly: alarmOnly}
	return s.All()
}

// SearchNext returns the next device of the search kept by the bus.
//
// ok is false once all devices were returned; the following call starts over.
// A ROM failing its CRC is never returned.
func (d *Dev) SearchNext() (addr onewire.Address, ok bool, err error) {
	d.searchMu.Lock()
	defer d.searchMu.Unlock()
	if !d.search.Next() {
		return 0, false, d.search.Err()
	}
	return d.search.Addr(), true, nil
}

// SearchReset rewinds the search kept by the bus.
func (d *Dev) SearchReset() {
	d.searchMu.Lock()
	defer d.searchMu.Unlock()
	d.search.Reset()
}

// SearchTriplet performs the two reads and the write of one search step.
//
// SearchTriplet should not be used directly, use Search instead.
func (d *Dev) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	d.Lock()
	defer d.Unlock()
	id := d.readBit()
	cmp := d.readBit()
	tr := onewire.TripletResult{GotZero: id == 0, GotOne: cmp == 0}
	switch {
	case tr.GotZero && tr.GotOne:
		tr.Taken = direction & 1
	case tr.GotOne:
		tr.Taken = 1
	case !tr.GotZero:
		// Nobody answered, leave the bus alone.
		return tr, d.err
	}
	d.writeBit(tr.Taken)
	return tr, d.err
}

//

func (d *Dev) reset() (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	d.release()
	idle := false
	for range d.t.ReleaseRetries {
		d.w.Wait(d.t.ReleasePoll)
		if d.q.Read() == gpio.High {
			idle = true
			break
		}
	}
	if d.err != nil {
		return false, d.err
	}
	if !idle {
		if glog.V(2) {
			glog.Infof("onewiregpio: %s held low for %s", d.q, time.Duration(d.t.ReleaseRetries)*d.t.ReleasePoll)
		}
		return false, shortedBusError("onewiregpio: bus is held low")
	}

	d.low()
	d.w.Wait(d.t.ResetLow)
	d.release()

	d.w.Wait(d.t.PresenceDelay)
	present := false
	n := 0
	for n < d.t.PresenceSamples && !present {
		present = d.q.Read() == gpio.Low
		d.w.Wait(d.t.PresenceSlice)
		n++
	}
	// Keep the reset length constant whenever presence was seen.
	d.w.Wait(time.Duration(d.t.PresenceSamples-n) * d.t.PresenceSlice)
	d.w.Wait(d.t.ResetRecovery)
	return present, d.err
}

func (d *Dev) writeBit(b byte) {
	if d.err != nil {
		return
	}
	d.low()
	if b&1 != 0 {
		d.m.Mask()
		d.w.Wait(d.t.SlotLow)
		d.m.Unmask()
		d.release()
		d.w.Wait(d.t.Write1Recovery)
		return
	}
	d.w.Wait(d.t.Write0Low)
	d.release()
	d.w.Wait(d.t.Write0Recovery)
}

func (d *Dev) readBit() byte {
	if d.err != nil {
		return 0
	}
	d.low()
	d.m.Mask()
	d.w.Wait(d.t.SlotLow)
	d.m.Unmask()
	d.release()
	d.m.Mask()
	d.w.Wait(d.t.ReadSample)
	d.m.Unmask()
	l := d.q.Read()
	d.w.Wait(d.t.ReadRecovery)
	if l == gpio.High {
		return 1
	}
	return 0
}

func (d *Dev) writeByte(b byte) {
	for range 8 {
		d.writeBit(b & 1)
		b >>= 1
	}
}

func (d *Dev) readByte() byte {
	var b byte
	for i := range 8 {
		b |= d.readBit() << uint(i)
	}
	return b
}

// low drives the line low.
func (d *Dev) low() {
	if d.err == nil {
		d.err = d.q.Out(gpio.Low)
	}
}

// release lets the pull-up take the line.
func (d *Dev) release() {
	if d.err == nil {
		d.err = d.q.In(d.pull, gpio.NoEdge)
	}
}

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) IsShorted() bool { return true }
func (e shortedBusError) BusError() bool  { return true }

// noDevicesError implements error, onewire.NoDevicesError and
// onewire.BusError.
type noDevicesError string

func (e noDevicesError) Error() string   { return string(e) }
func (e noDevicesError) NoDevices() bool { return true }
func (e noDevicesError) BusError() bool  { return true }

var _ conn.Resource = &Dev{}
var _ onewire.Bus = &Dev{}
var _ onewire.BusSearcher = &Dev{}
var _ onewire.Pins = &Dev{}
var _ owsearch.Resetter = &Dev{}
var _ onewire.ShortedBusError = shortedBusError("")
var _ onewire.NoDevicesError = noDevicesError("")
