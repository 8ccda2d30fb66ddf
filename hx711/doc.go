// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hx711 drives the Avia Semiconductor HX711 24 bits ADC for load
// cells, over its two wire serial interface.
//
// The chip signals a finished conversion by pulling its data line low. The
// driver then clocks out 24 bits, most significant first, and 1 to 3 extra
// pulses that select the input and gain of the next conversion. Holding the
// clock high for more than 60µs powers the chip down.
//
// Weights are computed as (average of Reads conversions − offset) / scale.
// The offset is measured by Tare, the scale by Calibrate against a known
// weight, and both can be persisted with Save and Load.
//
// # Datasheet
//
// https://cdn.sparkfun.com/datasheets/Sensors/ForceFlex/hx711_english.pdf
package hx711
