// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/GermanBionicSystems/sensornode/eeprom"
	"github.com/GermanBionicSystems/sensornode/gauge"
	"github.com/GermanBionicSystems/sensornode/hx711"
	"github.com/GermanBionicSystems/sensornode/tick"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var (
	scaleDOUT      string
	scaleSCK       string
	scaleChannel   int
	scaleEEPROM    string
	scaleAddress   int64
	scaleInterval  time.Duration
	scaleHibernate bool
	scaleMax       float64
	scaleUnit      string
	saveOffset     int64
	saveScale      float32
	saveReads      int
)

var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "HX711 load cell amplifier",
	Long: `HX711 load cell amplifier.

The calibration is kept in a file emulating the node's EEPROM; tare and
calibrate update it.`,
}

var scaleReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Print the weight",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScale(func(d *hx711.Dev, _ *eeprom.File) error {
			u, err := d.Units()
			if err != nil {
				return err
			}
			fmt.Printf("%.3f %s\n", u, scaleUnit)
			return nil
		})
	},
}

var scaleTareCmd = &cobra.Command{
	Use:   "tare",
	Short: "Record the weight of the empty scale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScale(func(d *hx711.Dev, f *eeprom.File) error {
			if err := d.Tare(); err != nil {
				return err
			}
			fmt.Printf("offset %d\n", d.Offset())
			return d.Save(f)
		})
	},
}

var scaleCalibrateCmd = &cobra.Command{
	Use:   "calibrate <weight>",
	Short: "Compute the scale from a known weight on the tared scale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := strconv.ParseFloat(args[0], 32)
		if err != nil {
			return err
		}
		return withScale(func(d *hx711.Dev, f *eeprom.File) error {
			if err := d.Calibrate(float32(w)); err != nil {
				return err
			}
			fmt.Printf("scale %g\n", d.Scale())
			return d.Save(f)
		})
	},
}

var scaleSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store a known calibration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScale(func(d *hx711.Dev, f *eeprom.File) error {
			d.SetOffset(saveOffset)
			if err := d.SetScale(saveScale); err != nil {
				return err
			}
			if err := d.SetReads(saveReads); err != nil {
				return err
			}
			return d.Save(f)
		})
	},
}

var scaleWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Display the weight until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := gauge.New(&gauge.Opts{
			X:    40,
			Max:  scaleMax,
			Unit: scaleUnit,
			Low:  gauge.DefaultOpts.Low,
			High: gauge.DefaultOpts.High,
		})
		if err != nil {
			return err
		}
		defer g.Halt()
		l := tick.NewLoop(nil)
		d, f, err := openScale(l)
		if err != nil {
			return err
		}
		defer f.Close()
		defer d.Halt()
		if err := d.SetHibernate(scaleHibernate); err != nil {
			return err
		}
		d.SetEventHandler(func(d *hx711.Dev, e hx711.Event, u float32) {
			if e == hx711.EventError {
				glog.Warningf("%s: %v", d, d.Err())
				_ = g.Invalid()
				return
			}
			_ = g.Set(float64(u))
		})
		d.SetUpdateInterval(scaleInterval)
		return runLoop(cmd.Context(), l)
	},
}

func init() {
	f := scaleCmd.PersistentFlags()
	f.StringVar(&scaleDOUT, "dout", "GPIO5", "GPIO connected to DOUT")
	f.StringVar(&scaleSCK, "sck", "GPIO6", "GPIO connected to PD_SCK")
	f.IntVar(&scaleChannel, "channel", 128, "input and gain: 128 or 64 for channel A, 32 for channel B")
	f.StringVar(&scaleEEPROM, "eeprom", "nodectl.eeprom", "file holding the calibration")
	f.Int64Var(&scaleAddress, "address", 0, "offset of the calibration in the file")
	f.StringVar(&scaleUnit, "unit", "g", "unit of the calibration weight")
	scaleWatchCmd.Flags().DurationVar(&scaleInterval, "interval", time.Second, "measurement interval")
	scaleWatchCmd.Flags().BoolVar(&scaleHibernate, "hibernate", false, "power the chip down between measurements")
	scaleWatchCmd.Flags().Float64Var(&scaleMax, "max", 1000, "weight of a full gauge")
	scaleSaveCmd.Flags().Int64Var(&saveOffset, "offset", 0, "raw value of the empty scale")
	scaleSaveCmd.Flags().Float32Var(&saveScale, "scale", 1, "raw units per unit of weight")
	scaleSaveCmd.Flags().IntVar(&saveReads, "reads", 5, "conversions averaged per measurement")
	scaleCmd.AddCommand(scaleReadCmd, scaleTareCmd, scaleCalibrateCmd, scaleSaveCmd, scaleWatchCmd)
	rootCmd.AddCommand(scaleCmd)
}

// openScale returns the HX711 with the stored calibration applied, when
// there is one.
func openScale(s tick.Scheduler) (*hx711.Dev, *eeprom.File, error) {
	dout, err := openPin(scaleDOUT)
	if err != nil {
		return nil, nil, err
	}
	sck, err := openPin(scaleSCK)
	if err != nil {
		return nil, nil, err
	}
	opts := hx711.DefaultOpts
	opts.Channel = hx711.Channel(scaleChannel)
	opts.Address = scaleAddress
	d, err := hx711.New(dout, sck, s, &opts)
	if err != nil {
		return nil, nil, err
	}
	f, err := eeprom.Open(scaleEEPROM, scaleAddress+hx711.RecordSize)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Load(f); err != nil {
		glog.Warningf("%s: not calibrated: %v", d, err)
	}
	return d, f, nil
}

// withScale runs fn on the scale outside of any scheduler loop.
func withScale(fn func(d *hx711.Dev, f *eeprom.File) error) error {
	d, f, err := openScale(tick.NewLoop(nil))
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(d, f)
}
