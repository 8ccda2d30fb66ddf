// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sht3x_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/sensornode/sht3x"
	"github.com/GermanBionicSystems/sensornode/tick"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Use i2creg I²C bus registry to find the first available I²C bus.
	b, err := i2creg.Open("")
	if err != nil {
		log.Fatalf("failed to open I²C: %v", err)
	}
	defer b.Close()

	l := tick.NewLoop(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d := sht3x.New(b, sht3x.DefaultAddress, l)
	d.SetEventHandler(func(d *sht3x.Dev, e sht3x.Event) {
		defer cancel()
		e2 := physic.Env{}
		if !d.Env(&e2) {
			log.Print(d.Err())
			return
		}
		fmt.Printf("%8s %9s\n", e2.Temperature, e2.Humidity)
	})
	d.Measure()
	_ = l.Run(ctx)
}
