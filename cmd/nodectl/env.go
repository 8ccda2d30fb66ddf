// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/sensornode/cycle"
	"github.com/GermanBionicSystems/sensornode/gauge"
	"github.com/GermanBionicSystems/sensornode/sht3x"
	"github.com/GermanBionicSystems/sensornode/tick"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
)

var (
	envBus      string
	envAddr     uint16
	envInterval time.Duration
	envGauge    bool
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Read a SHT3x humidity and temperature sensor",
	Long: `Read a SHT3x humidity and temperature sensor.

Without --interval, the sensor is read once.`,
	Args: cobra.NoArgs,
	RunE: runEnv,
}

func init() {
	envCmd.Flags().StringVar(&envBus, "bus", "", "I²C bus, the first one by default")
	envCmd.Flags().Uint16Var(&envAddr, "addr", uint16(sht3x.DefaultAddress), "I²C address")
	envCmd.Flags().DurationVar(&envInterval, "interval", 0, "measurement interval")
	envCmd.Flags().BoolVar(&envGauge, "gauge", false, "display the temperature as a gauge")
	rootCmd.AddCommand(envCmd)
}

func runEnv(cmd *cobra.Command, args []string) error {
	bus, err := i2creg.Open(envBus)
	if err != nil {
		return err
	}
	defer bus.Close()
	var g *gauge.Dev
	if envGauge {
		if g, err = gauge.New(&gauge.Opts{X: 40, Min: -10, Max: 40, Unit: "°C", Low: gauge.DefaultOpts.Low, High: gauge.DefaultOpts.High}); err != nil {
			return err
		}
		defer g.Halt()
	}

	l := tick.NewLoop(nil)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	d := sht3x.New(bus, i2c.Addr(envAddr), l)
	d.SetEventHandler(func(d *sht3x.Dev, e sht3x.Event) {
		if envInterval == 0 {
			defer cancel()
		}
		var env physic.Env
		if e == cycle.EventError || !d.Env(&env) {
			glog.Warningf("%s: %v", d, d.Err())
			if g != nil {
				_ = g.Invalid()
			}
			return
		}
		if g != nil {
			_ = g.Set(env.Temperature.Celsius())
			return
		}
		fmt.Printf("%8s %9s\n", env.Temperature, env.Humidity)
	})
	if envInterval > 0 {
		d.SetUpdateInterval(envInterval)
	} else {
		d.Measure()
	}
	return runLoop(ctx, l)
}
