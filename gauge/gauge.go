// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gauge renders a measurement as a one line bar graph on a terminal,
// using ANSI color codes.
//
// It is the host side readout of the drivers: the bar is redrawn in place on
// every update, so a scale or a thermometer can be watched from a shell.
package gauge

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// Opts represents the options available for this display.
type Opts struct {
	// X is the number of cells of the bar.
	X int
	// Min and Max are the values of an empty and of a full bar.
	Min, Max float64
	// Unit is printed after the value.
	Unit string
	// Low and High are the colors of the first and last cells; the cells in
	// between are interpolated.
	Low, High color.NRGBA
	Palette   *ansi256.Palette
	// W defaults to the console.
	W io.Writer
}

// DefaultOpts is a 40 cells bar going from green to red.
var DefaultOpts = Opts{
	X:    40,
	Max:  1,
	Low:  color.NRGBA{G: 0xc0, A: 0xff},
	High: color.NRGBA{R: 0xff, A: 0xff},
}

var empty = color.NRGBA{A: 0xff}

// Dev is a bar graph that outputs to the console.
type Dev struct {
	w       io.Writer
	opts    Opts
	palette ansi256.Palette
	buf     bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.X <= 0 {
		return nil, errors.New("gauge: invalid width")
	}
	if !(opts.Max > opts.Min) {
		return nil, fmt.Errorf("gauge: invalid range [%g, %g]", opts.Min, opts.Max)
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	d := &Dev{w: opts.W, opts: *opts, palette: *p}
	if d.w == nil {
		d.w = colorable.NewColorableStdout()
	}
	return d, nil
}

func (d *Dev) String() string {
	return "Gauge"
}

// Halt implements conn.Resource.
//
// It resets the colors and moves to the next line so the terminal is not
// corrupted.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Cells returns how many cells v fills, clamped to [0, X].
func (d *Dev) Cells(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	n := int(math.Round((v - d.opts.Min) / (d.opts.Max - d.opts.Min) * float64(d.opts.X)))
	if n < 0 {
		return 0
	}
	if n > d.opts.X {
		return d.opts.X
	}
	return n
}

// Set redraws the bar for v.
func (d *Dev) Set(v float64) error {
	return d.refresh(d.Cells(v), fmt.Sprintf("%.2f %s", v, d.opts.Unit))
}

// Invalid redraws an empty bar, for a failed measurement.
func (d *Dev) Invalid() error {
	return d.refresh(0, "-- "+d.opts.Unit)
}

// CellColor returns the color of cell i of a full bar.
func (d *Dev) CellColor(i int) color.NRGBA {
	if d.opts.X == 1 {
		return d.opts.Low
	}
	f := float64(i) / float64(d.opts.X-1)
	lerp := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
	}
	return color.NRGBA{
		R: lerp(d.opts.Low.R, d.opts.High.R),
		G: lerp(d.opts.Low.G, d.opts.High.G),
		B: lerp(d.opts.Low.B, d.opts.High.B),
		A: 0xff,
	}
}

func (d *Dev) refresh(n int, label string) error {
	// This code is designed to minimize the amount of memory allocated per call.
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for i := range d.opts.X {
		c := empty
		if i < n {
			c = d.CellColor(i)
		}
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	_, _ = d.buf.WriteString(label)
	// Erase what is left of a longer label.
	_, _ = d.buf.WriteString("\033[K")
	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ fmt.Stringer = &Dev{}
