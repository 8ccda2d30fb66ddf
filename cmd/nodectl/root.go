// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/GermanBionicSystems/sensornode/tick"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var rootCmd = &cobra.Command{
	Use:   "nodectl",
	Short: "Sensor node drivers on host GPIOs",
	Long: `nodectl drives the sensors of a sensor node from a host with GPIOs.

  onewire  search a bit-banged 1-wire bus and read DS18B20 thermometers
  scale    read, tare and calibrate a HX711 load cell amplifier
  env      read a SHT3x humidity and temperature sensor over I²C

Pins are named as known by periph, e.g. GPIO4 or P1_7. Logging is controlled
with the glog flags, e.g. -v=2 -logtostderr.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// glog complains when its flags were never parsed; cobra parsed them.
		if err := flag.CommandLine.Parse(nil); err != nil {
			return err
		}
		if _, err := host.Init(); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// openPin returns the GPIO pin called name.
func openPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown pin %q", name)
	}
	return p, nil
}

// runLoop runs l until ctx is done or the user interrupts.
func runLoop(ctx context.Context, l *tick.Loop) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
