// Package channel models the analog and digital channels a device exposes,
// their calibration, and their most recently observed sample.
package channel

import (
	"sync"
	"time"
)

// Direction is a channel's data direction.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// Sample is the most recently observed value on a channel, analog or
// digital.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// SampleHandler is notified whenever a channel receives a new sample.
type SampleHandler func(index uint, sample Sample)

// Analog is a single analog input/output channel with its calibration.
// mu guards the last sample and the sample handler, and is held while
// ScaledValue and SetActiveSample read the calibration fields; LastSample
// is the locked accessor for the sample. The exported fields are plain
// struct fields: writing them directly does not take mu.
type Analog struct {
	mu sync.Mutex

	Index     uint
	Name      string
	Enabled   bool
	Direction Direction

	Resolution        uint
	CalibrationSlope  float64
	CalibrationOffset float64
	InternalScale     float64
	PortRange         float64
	Min               float64
	Max               float64

	lastSample    Sample
	hasLastSample bool

	onSample SampleHandler
}

// DefaultAnalogCalibration is applied to any channel index a status record
// doesn't supply a calibration array entry for.
var DefaultAnalogCalibration = Analog{
	Resolution:        65535,
	CalibrationSlope:  1,
	CalibrationOffset: 0,
	InternalScale:     1,
	PortRange:         1,
}

// NewAnalog returns an analog channel with the default calibration,
// identified by index and name.
func NewAnalog(index uint, name string) *Analog {
	d := &DefaultAnalogCalibration
	return &Analog{
		Index:             index,
		Name:              name,
		Direction:         DirectionInput,
		Resolution:        d.Resolution,
		CalibrationSlope:  d.CalibrationSlope,
		CalibrationOffset: d.CalibrationOffset,
		InternalScale:     d.InternalScale,
		PortRange:         d.PortRange,
	}
}

// OnSample registers the handler invoked by SetActiveSample. Only one
// handler is kept; registering again replaces it.
func (a *Analog) OnSample(h SampleHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSample = h
}

// ScaledValue computes ((raw / resolution) * portRange * slope + offset) *
// internalScale.
func (a *Analog) ScaledValue(raw float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scaledValueLocked(raw)
}

func (a *Analog) scaledValueLocked(raw float64) float64 {
	if a.Resolution == 0 {
		return 0
	}
	return ((raw/float64(a.Resolution))*a.PortRange*a.CalibrationSlope + a.CalibrationOffset) * a.InternalScale
}

// SetActiveSample stores raw as the channel's current sample (after
// scaling) and notifies the registered handler, if any. The store happens
// under the same lock as scaling, so a concurrent LastSample read never
// observes a torn update; the handler runs after the lock is released.
func (a *Analog) SetActiveSample(raw float64, at time.Time) {
	a.mu.Lock()
	scaled := a.scaledValueLocked(raw)
	a.lastSample = Sample{Timestamp: at, Value: scaled}
	a.hasLastSample = true
	handler := a.onSample
	a.mu.Unlock()

	if handler != nil {
		handler(a.Index, Sample{Timestamp: at, Value: scaled})
	}
}

// LastSample returns the channel's most recently stored sample and whether
// one has ever been recorded.
func (a *Analog) LastSample() (Sample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSample, a.hasLastSample
}

// Digital is a single digital input/output channel.
type Digital struct {
	mu sync.Mutex

	Index     uint
	Name      string
	Enabled   bool
	Direction Direction

	lastSample    Sample
	hasLastSample bool

	onSample SampleHandler
}

// NewDigital returns a digital channel identified by index and name.
func NewDigital(index uint, name string) *Digital {
	return &Digital{Index: index, Name: name, Direction: DirectionInput}
}

// OnSample registers the handler invoked by SetActiveSample.
func (d *Digital) OnSample(h SampleHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSample = h
}

// SetActiveSample stores value (0 or 1) as the channel's current boolean
// sample and notifies the registered handler, if any.
func (d *Digital) SetActiveSample(value bool, at time.Time) {
	v := 0.0
	if value {
		v = 1.0
	}

	d.mu.Lock()
	d.lastSample = Sample{Timestamp: at, Value: v}
	d.hasLastSample = true
	handler := d.onSample
	d.mu.Unlock()

	if handler != nil {
		handler(d.Index, Sample{Timestamp: at, Value: v})
	}
}

// LastSample returns the channel's most recently stored sample and whether
// one has ever been recorded.
func (d *Digital) LastSample() (Sample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSample, d.hasLastSample
}
