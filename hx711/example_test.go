// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hx711_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/sensornode/eeprom"
	"github.com/GermanBionicSystems/sensornode/hx711"
	"github.com/GermanBionicSystems/sensornode/tick"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	dout := gpioreg.ByName("GPIO5")
	sck := gpioreg.ByName("GPIO6")
	if dout == nil || sck == nil {
		log.Fatal("failed to find the pins")
	}

	l := tick.NewLoop(nil)
	d, err := hx711.New(dout, sck, l, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Halt()

	// Restore the calibration, or do it with an empty scale and then a known
	// weight on it.
	mem := eeprom.New(64)
	if err := d.Load(mem); err != nil {
		if err := d.Tare(); err != nil {
			log.Fatal(err)
		}
		// ... put 500g on the scale.
		if err := d.Calibrate(500); err != nil {
			log.Fatal(err)
		}
		if err := d.Save(mem); err != nil {
			log.Fatal(err)
		}
	}

	d.SetEventHandler(func(d *hx711.Dev, e hx711.Event, units float32) {
		if e == hx711.EventError {
			log.Print(d.Err())
			return
		}
		fmt.Printf("%.1fg\n", units)
	})
	d.SetUpdateInterval(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = l.Run(ctx)
}
