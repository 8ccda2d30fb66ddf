// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owsearch enumerates the devices on a 1-wire bus one at a time.
//
// Unlike onewire.Search, which returns every device at once, a Searcher keeps
// the search position between calls so each step is short enough to run as a
// single scheduler task. It also supports the alarm search and targeting a
// single family.
//
// Devices are found in ascending ROM order, comparing bits from the least
// significant bit of the family code upward; this is the order the bus itself
// resolves conflicts in.
//
// See Maxim's application note 187 for the algorithm.
package owsearch

import (
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/sensornode/common"
	"periph.io/x/conn/v3/onewire"
)

const (
	cmdSearch      = 0xf0
	cmdAlarmSearch = 0xec
)

// ErrDisappeared is returned when no device answered a search slot.
var ErrDisappeared = errors.New("owsearch: devices disappeared during search")

// Resetter is implemented by buses that can issue a bare reset pulse. The
// Searcher uses it to leave the bus idle after a rejected ROM.
type Resetter interface {
	Reset() (bool, error)
}

// Searcher walks the ROM tree of a 1-wire bus.
//
// The zero value is not usable; set Bus.
type Searcher struct {
	Bus onewire.BusSearcher
	// AlarmOnly restricts the search to devices in alarm state.
	AlarmOnly bool

	// Search position. Bit positions are 1-based; 0 means none.
	lastROM               [8]byte
	lastDiscrepancy       int
	lastFamilyDiscrepancy int
	lastDevice            bool

	addr onewire.Address
	err  error
}

// New returns a Searcher for bus.
func New(bus onewire.BusSearcher) *Searcher {
	return &Searcher{Bus: bus}
}

// Next advances to the next device on the bus.
//
// It returns false when the enumeration is exhausted or on error; check Err
// to tell them apart. After exhaustion the Searcher is rewound, so the next
// call starts over from the first device.
//
// A ROM failing its CRC or with a zero family code is rejected: Next returns
// false with a bus error and the search position is left unchanged, so a
// retry resumes at the same branch.
func (s *Searcher) Next() bool {
	s.err = nil
	if s.lastDevice {
		s.Reset()
		return false
	}
	cmd := byte(cmdSearch)
	if s.AlarmOnly {
		cmd = cmdAlarmSearch
	}
	if err := s.Bus.Tx([]byte{cmd}, nil, onewire.WeakPullup); err != nil {
		s.err = err
		return false
	}

	var rom [8]byte
	lastZero := 0
	lastFamilyZero := s.lastFamilyDiscrepancy
	for bit := 1; bit <= 64; bit++ {
		idx, mask := (bit-1)>>3, byte(1)<<uint((bit-1)&7)
		dir := Direction(bit, s.lastDiscrepancy, s.lastROM[idx]&mask != 0)
		r, err := s.Bus.SearchTriplet(dir)
		if err != nil {
			s.err = err
			return false
		}
		if !r.GotZero && !r.GotOne {
			s.err = ErrDisappeared
			return false
		}
		if r.GotZero && r.GotOne && r.Taken == 0 {
			lastZero = bit
			if bit <= 8 {
				lastFamilyZero = bit
			}
		}
		if r.Taken != 0 {
			rom[idx] |= mask
		}
	}

	if rom[0] == 0 || common.CRC8Maxim(0, rom[:]) != 0 {
		s.err = crcError(rom)
		if r, ok := s.Bus.(Resetter); ok {
			_, _ = r.Reset()
		}
		return false
	}
	s.lastROM = rom
	s.lastDiscrepancy = lastZero
	s.lastFamilyDiscrepancy = lastFamilyZero
	s.lastDevice = lastZero == 0
	s.addr = toAddress(rom)
	return true
}

// Direction returns the direction to take at a search slot where devices
// disagree.
//
// bit and lastDiscrepancy are 1-based; prev is the value of bit in the ROM
// found by the previous pass. Positions before the last discrepancy replay
// the previous path, the last discrepancy itself now takes the 1 branch, and
// everything past it starts with 0.
//
// When all devices agree the bus ignores the direction.
func Direction(bit, lastDiscrepancy int, prev bool) byte {
	switch {
	case bit < lastDiscrepancy:
		if prev {
			return 1
		}
		return 0
	case bit == lastDiscrepancy:
		return 1
	default:
		return 0
	}
}

// Addr returns the device found by the last successful Next.
func (s *Searcher) Addr() onewire.Address {
	return s.addr
}

// Err returns the error that stopped the last Next, if any.
func (s *Searcher) Err() error {
	return s.err
}

// LastDevice reports whether the last device found was the final one.
func (s *Searcher) LastDevice() bool {
	return s.lastDevice
}

// Reset rewinds the search to the first device.
func (s *Searcher) Reset() {
	s.lastROM = [8]byte{}
	s.lastDiscrepancy = 0
	s.lastFamilyDiscrepancy = 0
	s.lastDevice = false
}

// Target sets the search so the next device found is the first one of the
// family, if any is present.
func (s *Searcher) Target(family byte) {
	s.Reset()
	s.lastROM[0] = family
	s.lastDiscrepancy = 64
}

// SkipFamily sets the search so the next device found is of a different
// family than the current one.
func (s *Searcher) SkipFamily() {
	s.lastDiscrepancy = s.lastFamilyDiscrepancy
	s.lastFamilyDiscrepancy = 0
	if s.lastDiscrepancy == 0 {
		s.lastDevice = true
	}
}

// All rewinds the search and returns every device on the bus.
//
// On error, the devices found so far are returned with the error.
func (s *Searcher) All() ([]onewire.Address, error) {
	s.Reset()
	var out []onewire.Address
	for s.Next() {
		out = append(out, s.addr)
	}
	return out, s.err
}

//

type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

func crcError(rom [8]byte) error {
	return busError(fmt.Sprintf("owsearch: invalid ROM % x", rom[:]))
}

func toAddress(rom [8]byte) onewire.Address {
	var a onewire.Address
	for i := 7; i >= 0; i-- {
		a = a<<8 | onewire.Address(rom[i])
	}
	return a
}

var _ onewire.BusError = busError("")
