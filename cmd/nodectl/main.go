// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// nodectl runs the sensor node drivers on a host with GPIOs, like a
// Raspberry Pi.
//
// It bit-bangs the 1-wire bus and the HX711 interface on plain GPIO pins, so
// neither a 1-wire bridge nor a kernel driver is needed.
package main

import (
	"os"

	"github.com/golang/glog"
)

func main() {
	err := rootCmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
