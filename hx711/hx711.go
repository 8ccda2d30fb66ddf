// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hx711

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/GermanBionicSystems/sensornode/tick"
	"github.com/GermanBionicSystems/sensornode/timing"
	"github.com/golang/glog"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
)

// InvalidValue is returned alongside an error by the raw read functions.
const InvalidValue int32 = -99999999

// RecordSize is the size of the calibration record written by Save.
const RecordSize = 13

var (
	// ErrNotReady is returned when the chip did not signal a finished
	// conversion in time.
	ErrNotReady = errors.New("hx711: not ready")
	// ErrInvalidScale is returned for a zero scale.
	ErrInvalidScale = errors.New("hx711: invalid scale")
	// ErrInvalidWeight is returned when calibrating against a zero weight.
	ErrInvalidWeight = errors.New("hx711: invalid calibration weight")
	// ErrZeroReading is returned when tare or calibration read exactly 0,
	// which is what a disconnected load cell looks like.
	ErrZeroReading = errors.New("hx711: zero reading")
	// ErrInvalidChannel is returned for a Channel other than ChannelA128,
	// ChannelA64 and ChannelB32.
	ErrInvalidChannel = errors.New("hx711: invalid channel")
	// ErrInvalidReads is returned for a read count out of [1, 255].
	ErrInvalidReads = errors.New("hx711: invalid number of reads")
	// ErrCorruptRecord is returned by Load for a record that cannot be
	// applied.
	ErrCorruptRecord = errors.New("hx711: corrupt calibration record")
)

// Channel is the input and gain used for the next conversion.
type Channel int

// Valid Channel values.
const (
	ChannelA128 Channel = 128
	ChannelA64  Channel = 64
	ChannelB32  Channel = 32
)

// pulses returns the number of clock pulses after the 24 data bits that
// select c for the next conversion.
func (c Channel) pulses() int {
	switch c {
	case ChannelB32:
		return 2
	case ChannelA64:
		return 3
	default:
		return 1
	}
}

func (c Channel) valid() bool {
	return c == ChannelA128 || c == ChannelA64 || c == ChannelB32
}

func (c Channel) String() string {
	switch c {
	case ChannelB32:
		return "B/32"
	case ChannelA64:
		return "A/64"
	default:
		return "A/128"
	}
}

// State is the state of the chip as known by the driver.
type State int

// Valid State values.
const (
	StateUninitialized State = iota
	StateReady
	StateReading
	StateSleep
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateReady:
		return "Ready"
	case StateReading:
		return "Reading"
	case StateSleep:
		return "Sleep"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is passed to the Handler.
type Event int

// Valid Event values.
const (
	// EventUpdate is emitted by the periodic measurement.
	EventUpdate Event = iota
	// EventMeasure is emitted by an explicit call to Measure.
	EventMeasure
	// EventError is emitted when a measurement failed. Err returns why.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventUpdate:
		return "Update"
	case EventMeasure:
		return "Measure"
	default:
		return "Error"
	}
}

// Handler is called synchronously with the result of a measurement. units
// is 0 on EventError.
type Handler func(d *Dev, e Event, units float32)

// Opts contains options to pass to the constructor.
type Opts struct {
	Channel Channel
	// Reads is the number of conversions averaged by Tare, Calibrate, Value
	// and Units.
	Reads int
	// The chip is polled ReadyRetries times, ReadyDelay apart, before a read
	// fails with ErrNotReady. The product must cover one conversion period:
	// 100ms at 10 SPS, 12.5ms at 80 SPS. Delays longer than
	// timing.MaxBusyWait are split into several waits.
	ReadyRetries int
	ReadyDelay   time.Duration
	// ClockDelay is the duration of each half clock period, at least 0.2µs.
	ClockDelay time.Duration
	// PowerDownDelay is how long the clock is held high by PowerDown. The
	// chip enters power down mode after 60µs.
	PowerDownDelay time.Duration
	// Address is the offset of the calibration record for Save and Load.
	Address int64

	// Clock is used by WaitReadyTimeout. Defaults to the real clock.
	Clock  clockwork.Clock
	Waiter timing.Waiter
	Masker timing.Masker
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Channel:        ChannelA128,
	Reads:          5,
	ReadyRetries:   110,
	ReadyDelay:     time.Millisecond,
	ClockDelay:     time.Microsecond,
	PowerDownDelay: 100 * time.Microsecond,
	Waiter:         timing.Spin,
	Masker:         timing.ThreadMask{},
}

// New returns a driver for a HX711 on the data and clock pins.
//
// The chip is left powered up and the periodic measurement disabled. All
// the methods must be called from the goroutine running s.
func New(data gpio.PinIn, clock gpio.PinOut, s tick.Scheduler, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{
		data:     data,
		clock:    clock,
		s:        s,
		opts:     *opts,
		scale:    1,
		interval: tick.Forever,
	}
	if d.opts.Channel == 0 {
		d.opts.Channel = DefaultOpts.Channel
	}
	if !d.opts.Channel.valid() {
		return nil, ErrInvalidChannel
	}
	if d.opts.Reads == 0 {
		d.opts.Reads = DefaultOpts.Reads
	}
	if d.opts.Reads < 0 || d.opts.Reads > math.MaxUint8 {
		return nil, ErrInvalidReads
	}
	if d.opts.ReadyRetries <= 0 {
		d.opts.ReadyRetries = DefaultOpts.ReadyRetries
	}
	if d.opts.ReadyDelay <= 0 {
		d.opts.ReadyDelay = DefaultOpts.ReadyDelay
	}
	if d.opts.ClockDelay <= 0 {
		d.opts.ClockDelay = DefaultOpts.ClockDelay
	}
	if d.opts.PowerDownDelay <= 0 {
		d.opts.PowerDownDelay = DefaultOpts.PowerDownDelay
	}
	if d.opts.Clock == nil {
		d.opts.Clock = clockwork.NewRealClock()
	}
	if d.opts.Waiter == nil {
		d.opts.Waiter = timing.Spin
	}
	if d.opts.Masker == nil {
		d.opts.Masker = DefaultOpts.Masker
	}
	if err := clock.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("hx711: failed to set %s low: %w", clock, err)
	}
	if err := data.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("hx711: failed to set %s as input: %w", data, err)
	}
	d.task = s.Register(d.update, tick.Never)
	d.state = StateReady
	return d, nil
}

// Dev is a handle to a HX711 24 bits ADC.
type Dev struct {
	data  gpio.PinIn
	clock gpio.PinOut
	s     tick.Scheduler
	opts  Opts

	state      State
	clockHigh  bool
	offset     int64
	scale      float32
	calibrated bool
	hibernate  bool
	active     bool
	interval   time.Duration
	task       tick.TaskID
	handler    Handler
	err        error
}

func (d *Dev) String() string {
	return fmt.Sprintf("HX711{%s, %s}", d.data, d.clock)
}

// Halt implements conn.Resource.
//
// It disables the periodic measurement and powers the chip down.
func (d *Dev) Halt() error {
	d.interval = tick.Forever
	d.s.PlanAbsolute(d.task, tick.Never)
	return d.PowerDown()
}

// State returns the state of the chip.
func (d *Dev) State() State {
	return d.state
}

// Err returns the error of the last failed measurement.
func (d *Dev) Err() error {
	return d.err
}

// SetChannel selects the input used from the conversion after the next
// one.
func (d *Dev) SetChannel(c Channel) error {
	if !c.valid() {
		return ErrInvalidChannel
	}
	d.opts.Channel = c
	return nil
}

// Channel returns the selected channel.
func (d *Dev) Channel() Channel {
	return d.opts.Channel
}

// IsReady reports whether a conversion is ready to be read.
func (d *Dev) IsReady() bool {
	return d.data.Read() == gpio.Low
}

// WaitReadyRetry polls the chip up to retries times, delay apart.
func (d *Dev) WaitReadyRetry(retries int, delay time.Duration) bool {
	for range retries {
		if d.IsReady() {
			return true
		}
		d.wait(delay)
	}
	return false
}

// WaitReadyTimeout polls the chip every delay until timeout elapsed.
func (d *Dev) WaitReadyTimeout(timeout, delay time.Duration) bool {
	if delay <= 0 {
		delay = d.opts.ReadyDelay
	}
	start := d.opts.Clock.Now()
	for {
		if d.IsReady() {
			return true
		}
		if d.opts.Clock.Since(start) >= timeout {
			return false
		}
		d.wait(delay)
	}
}

// wait waits for delay, in slices the Waiter honors.
func (d *Dev) wait(delay time.Duration) {
	for delay > timing.MaxBusyWait {
		d.opts.Waiter.Wait(timing.MaxBusyWait)
		delay -= timing.MaxBusyWait
	}
	d.opts.Waiter.Wait(delay)
}

// ReadRaw reads one conversion.
//
// The gain pulses for the configured channel are sent right after the data,
// so a channel change only applies to the following conversion.
func (d *Dev) ReadRaw() (int32, error) {
	if d.clockHigh {
		if err := d.out(gpio.Low); err != nil {
			return InvalidValue, err
		}
		d.state = StateReady
	}
	if !d.WaitReadyRetry(d.opts.ReadyRetries, d.opts.ReadyDelay) {
		return InvalidValue, ErrNotReady
	}
	d.state = StateReading
	var b [3]byte
	for i := range 24 {
		l, err := d.pulse()
		if err != nil {
			d.state = StateReady
			return InvalidValue, err
		}
		if l {
			b[i/8] |= 0x80 >> uint(i%8)
		}
	}
	for range d.opts.Channel.pulses() {
		if _, err := d.pulse(); err != nil {
			d.state = StateReady
			return InvalidValue, err
		}
	}
	d.state = StateReady
	return Decode(b), nil
}

// Decode returns the signed value of a 24 bits two's complement conversion,
// most significant byte first.
func Decode(b [3]byte) int32 {
	return int32(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8) >> 8
}

// ReadRawAverage returns the mean of n conversions, truncated toward zero.
func (d *Dev) ReadRawAverage(n int) (int32, error) {
	if n <= 0 {
		return InvalidValue, ErrInvalidReads
	}
	var sum int64
	for range n {
		v, err := d.ReadRaw()
		if err != nil {
			return InvalidValue, err
		}
		sum += int64(v)
	}
	return int32(sum / int64(n)), nil
}

// Value returns the averaged conversion minus the tare offset.
func (d *Dev) Value() (float64, error) {
	v, err := d.ReadRawAverage(d.opts.Reads)
	if err != nil {
		return 0, err
	}
	return float64(int64(v) - d.offset), nil
}

// Units returns Value divided by the scale.
func (d *Dev) Units() (float32, error) {
	v, err := d.Value()
	if err != nil {
		return 0, err
	}
	return float32(v / float64(d.scale)), nil
}

// Tare sets the offset to the current averaged conversion.
func (d *Dev) Tare() error {
	v, err := d.ReadRawAverage(d.opts.Reads)
	if err != nil {
		return err
	}
	if v == 0 {
		return ErrZeroReading
	}
	d.offset = int64(v)
	return nil
}

// Calibrate sets the scale so that Units returns w for the current load.
//
// Call Tare with the scale empty first.
func (d *Dev) Calibrate(w float32) error {
	if w == 0 || math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
		return ErrInvalidWeight
	}
	v, err := d.ReadRawAverage(d.opts.Reads)
	if err != nil {
		return err
	}
	if v == 0 {
		return ErrZeroReading
	}
	scale := float32(float64(int64(v)-d.offset) / float64(w))
	if scale == 0 {
		return ErrInvalidScale
	}
	d.scale = scale
	d.calibrated = true
	return nil
}

// Calibrated reports whether the scale was set by Calibrate, SetScale or
// Load.
func (d *Dev) Calibrated() bool {
	return d.calibrated
}

// SetScale sets the number of raw units per unit of weight.
func (d *Dev) SetScale(scale float32) error {
	if !validScale(scale) {
		return ErrInvalidScale
	}
	d.scale = scale
	d.calibrated = true
	return nil
}

// Scale returns the number of raw units per unit of weight.
func (d *Dev) Scale() float32 {
	return d.scale
}

// SetOffset sets the raw value of an empty scale.
func (d *Dev) SetOffset(offset int64) {
	d.offset = offset
}

// Offset returns the raw value of an empty scale.
func (d *Dev) Offset() int64 {
	return d.offset
}

// SetReads sets the number of conversions averaged per measurement.
func (d *Dev) SetReads(n int) error {
	if n <= 0 || n > math.MaxUint8 {
		return ErrInvalidReads
	}
	d.opts.Reads = n
	return nil
}

// Reads returns the number of conversions averaged per measurement.
func (d *Dev) Reads() int {
	return d.opts.Reads
}

// PowerDown puts the chip in power down mode.
func (d *Dev) PowerDown() error {
	if err := d.out(gpio.Low); err != nil {
		return err
	}
	if err := d.out(gpio.High); err != nil {
		return err
	}
	d.opts.Waiter.Wait(d.opts.PowerDownDelay)
	d.state = StateSleep
	return nil
}

// PowerUp wakes the chip up. It resets to channel A with a gain of 128 until
// the next read.
func (d *Dev) PowerUp() error {
	if err := d.out(gpio.Low); err != nil {
		return err
	}
	d.state = StateReady
	return nil
}

// SetHibernate keeps the chip powered down between measurements.
//
// It is woken up by Measure and by the periodic measurement only.
func (d *Dev) SetHibernate(on bool) error {
	d.hibernate = on
	if on {
		return d.PowerDown()
	}
	return d.PowerUp()
}

// SetEventHandler sets the function called on every measurement.
func (d *Dev) SetEventHandler(h Handler) {
	d.handler = h
}

// SetUpdateInterval measures every interval, emitting EventUpdate.
// tick.Forever disables the periodic measurement.
//
// The first measurement happens one interval from now.
func (d *Dev) SetUpdateInterval(interval time.Duration) {
	d.interval = interval
	if interval == tick.Forever {
		d.s.PlanAbsolute(d.task, tick.Never)
		return
	}
	d.s.PlanRelative(d.task, interval)
}

// UpdateInterval returns the interval set with SetUpdateInterval.
func (d *Dev) UpdateInterval() time.Duration {
	return d.interval
}

// Measure measures the weight and emits EventMeasure, or EventError.
//
// It returns false without measuring if a measurement is in progress, which
// is the case when called from the Handler.
func (d *Dev) Measure() bool {
	if d.active {
		return false
	}
	d.measure(EventMeasure)
	return true
}

// Save writes the calibration record at Opts.Address.
func (d *Dev) Save(w io.WriterAt) error {
	var buf [RecordSize]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(d.offset))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(d.scale))
	buf[12] = uint8(d.opts.Reads)
	if _, err := w.WriteAt(buf[:], d.opts.Address); err != nil {
		return fmt.Errorf("hx711: failed to save calibration: %w", err)
	}
	return nil
}

// Load reads the calibration record at Opts.Address.
//
// Nothing is changed when the record cannot be read or is not valid.
func (d *Dev) Load(r io.ReaderAt) error {
	var buf [RecordSize]byte
	n, err := r.ReadAt(buf[:], d.opts.Address)
	if n != len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("hx711: failed to load calibration: %w", err)
	}
	offset := int64(binary.LittleEndian.Uint64(buf[0:]))
	scale := math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))
	reads := int(buf[12])
	if !validScale(scale) || reads == 0 {
		return ErrCorruptRecord
	}
	d.offset = offset
	d.scale = scale
	d.opts.Reads = reads
	d.calibrated = true
	if d.state != StateSleep {
		d.state = StateReady
	}
	return nil
}

func (d *Dev) update() {
	if !d.active {
		d.measure(EventUpdate)
	}
	if d.interval != tick.Forever {
		d.s.PlanRelative(d.task, d.interval)
	}
}

// measure runs a guarded measurement. The guard is held while the handler
// runs.
func (d *Dev) measure(e Event) {
	d.active = true
	defer func() { d.active = false }()
	if d.hibernate {
		if err := d.PowerUp(); err != nil {
			d.fail(err)
			return
		}
	}
	u, err := d.Units()
	if err != nil {
		d.fail(err)
	} else {
		d.err = nil
		d.emit(e, u)
	}
	if d.hibernate {
		if err := d.PowerDown(); err != nil && glog.V(1) {
			glog.Infof("%s: %v", d, err)
		}
	}
}

func (d *Dev) fail(err error) {
	d.err = err
	if glog.V(2) {
		glog.Infof("%s: measure failed: %v", d, err)
	}
	d.emit(EventError, 0)
}

func (d *Dev) emit(e Event, u float32) {
	if d.handler != nil {
		d.handler(d, e, u)
	}
}

// pulse runs one clock period and returns the data line sampled while the
// clock is high.
//
// The clock must not stay high for 60µs or the chip powers down, hence the
// masked section.
func (d *Dev) pulse() (bool, error) {
	d.opts.Masker.Mask()
	err := d.out(gpio.High)
	d.opts.Waiter.Wait(d.opts.ClockDelay)
	l := d.data.Read()
	if err2 := d.out(gpio.Low); err == nil {
		err = err2
	}
	d.opts.Masker.Unmask()
	d.opts.Waiter.Wait(d.opts.ClockDelay)
	return l == gpio.High, err
}

func (d *Dev) out(l gpio.Level) error {
	if err := d.clock.Out(l); err != nil {
		return fmt.Errorf("hx711: failed to set %s: %w", d.clock, err)
	}
	d.clockHigh = l == gpio.High
	return nil
}

func validScale(s float32) bool {
	return s != 0 && !math.IsNaN(float64(s)) && !math.IsInf(float64(s), 0)
}
