// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/sensornode/cycle"
	"github.com/GermanBionicSystems/sensornode/ds18b20"
	"github.com/GermanBionicSystems/sensornode/onewiregpio"
	"github.com/GermanBionicSystems/sensornode/tick"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/onewire"
)

var (
	owPin        string
	owAlarm      bool
	owResolution int
	owInterval   time.Duration
)

var onewireCmd = &cobra.Command{
	Use:   "onewire",
	Short: "1-wire bus bit-banged on a GPIO",
}

var onewireSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "List the devices on the bus",
	RunE:  runOnewireSearch,
}

var onewireTempCmd = &cobra.Command{
	Use:   "temp",
	Short: "Read every DS18B20 and DS18S20 on the bus",
	Long: `Read every DS18B20 and DS18S20 on the bus.

Without --interval, each thermometer is read once. With it, the readings are
printed until interrupted.`,
	RunE: runOnewireTemp,
}

func init() {
	onewireCmd.PersistentFlags().StringVar(&owPin, "pin", "GPIO4", "GPIO of the 1-wire data line")
	onewireSearchCmd.Flags().BoolVar(&owAlarm, "alarm", false, "only list devices in alarm state")
	onewireTempCmd.Flags().IntVar(&owResolution, "resolution", 10, "resolution in bits, 9 to 12")
	onewireTempCmd.Flags().DurationVar(&owInterval, "interval", 0, "measurement interval")
	onewireCmd.AddCommand(onewireSearchCmd, onewireTempCmd)
	rootCmd.AddCommand(onewireCmd)
}

func openOnewire() (*onewiregpio.Dev, error) {
	p, err := openPin(owPin)
	if err != nil {
		return nil, err
	}
	return onewiregpio.New(p, nil)
}

func runOnewireSearch(cmd *cobra.Command, args []string) error {
	bus, err := openOnewire()
	if err != nil {
		return err
	}
	defer bus.Halt()
	addrs, err := bus.Search(owAlarm)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		fmt.Printf("%#016x %s\n", uint64(a), ds18b20.Family(a&0xff))
	}
	return nil
}

func runOnewireTemp(cmd *cobra.Command, args []string) error {
	bus, err := openOnewire()
	if err != nil {
		return err
	}
	defer bus.Halt()
	addrs, err := bus.Search(false)
	if err != nil {
		return err
	}
	l := tick.NewLoop(nil)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	r := &thermometers{}
	for _, a := range addrs {
		if f := ds18b20.Family(a & 0xff); f != ds18b20.DS18B20 && f != ds18b20.DS18S20 {
			continue
		}
		s, err := ds18b20.NewSensor(bus, a, owResolution, l)
		if err != nil {
			return err
		}
		r.add(s)
	}
	if len(r.sensors) == 0 {
		return fmt.Errorf("no thermometer on %s", bus)
	}
	if owInterval > 0 {
		r.every(l, owInterval)
	} else {
		r.done = cancel
		r.start()
	}
	return runLoop(ctx, l)
}

// thermometers measures its sensors one at a time. Each conversion starts
// with a bus reset, which would cut the strong pull-up feeding a parasite
// powered sensor still converting.
type thermometers struct {
	sensors []*ds18b20.Sensor
	next    int
	busy    bool
	// done is called at the end of each round.
	done func()
}

func (r *thermometers) add(s *ds18b20.Sensor) {
	s.SetEventHandler(func(s *ds18b20.Sensor, e cycle.Event) {
		printTemp(s, e)
		r.step()
	})
	r.sensors = append(r.sensors, s)
}

// start begins a round, unless one is still running.
func (r *thermometers) start() {
	if r.busy {
		glog.Warningf("onewire: round still running, interval too short")
		return
	}
	r.busy = true
	r.next = 0
	r.step()
}

// step measures the next sensor of the round.
func (r *thermometers) step() {
	for r.next < len(r.sensors) {
		s := r.sensors[r.next]
		r.next++
		if s.Measure() {
			return
		}
	}
	r.busy = false
	if r.done != nil {
		r.done()
	}
}

// every starts a round now and then every interval.
func (r *thermometers) every(s tick.Scheduler, interval time.Duration) {
	var id tick.TaskID
	id = s.Register(func() {
		r.start()
		s.PlanRelative(id, interval)
	}, s.Now())
}

func printTemp(s *ds18b20.Sensor, e cycle.Event) {
	addr := addrOf(s)
	if e == cycle.EventError {
		glog.Warningf("%s: %v", s, s.Err())
		fmt.Printf("%#016x error\n", addr)
	} else if t, ok := s.Temperature(); ok {
		fmt.Printf("%#016x %s\n", addr, t)
	}
}

func addrOf(s *ds18b20.Sensor) uint64 {
	return uint64(s.Dev().Addr())
}

var _ onewire.Bus = &onewiregpio.Dev{}
