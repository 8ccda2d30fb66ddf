// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensornode is a container for the drivers of a battery powered
// sensor node.
//
// The drivers never block for more than a few milliseconds: they run as tasks
// of a cooperative scheduler, package tick, and bit-bang their protocols on
// plain GPIOs with the busy waits of package timing.
//
//   - onewiregpio is a 1-wire bus master, searched with owsearch.
//   - hx711 reads a load cell amplifier.
//   - sht3x and ds18b20 follow the measurement cycle of package cycle.
//
// cmd/nodectl runs them on a host.
package sensornode
