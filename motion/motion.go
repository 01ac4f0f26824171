// Package motion estimates distance travelled and tilt by integrating IMU
// readings.
//
// The estimator first collects a calibration window while the frame rests
// and derives a per-axis dead-zone band from it. Afterwards every sample is
// zeroed inside the band, spikes that are not confirmed by the previous
// sample are dropped, and the rest is integrated: acceleration twice into
// distance, rotation once into tilt. Nothing corrects the drift this
// accumulates.
package motion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/w1xm/quadpilot/imu"
)

const (
	// SampleCount is the size of the calibration window.
	SampleCount = 100

	// The MPU-6050 samples at 1kHz.
	DefaultInterval = time.Millisecond

	bandMargin = 0.2
)

// Sensor is the part of imu.Sensor the estimator reads.
type Sensor interface {
	Acceleration() (imu.Vector, error)
	Rotation() (imu.Vector, error)
}

// Band is the closed dead-zone interval per axis.
type Band struct {
	Lower, Upper imu.Vector
}

func (b Band) filter(v imu.Vector) imu.Vector {
	in := func(x, lo, hi float64) float64 {
		if x >= lo && x <= hi {
			return 0
		}
		return x
	}
	return imu.Vector{
		X: in(v.X, b.Lower.X, b.Upper.X),
		Y: in(v.Y, b.Lower.Y, b.Upper.Y),
		Z: in(v.Z, b.Lower.Z, b.Upper.Z),
	}
}

func newBand(samples []imu.Vector) Band {
	lo, hi := samples[0], samples[0]
	for _, s := range samples[1:] {
		lo = imu.Vector{X: math.Min(lo.X, s.X), Y: math.Min(lo.Y, s.Y), Z: math.Min(lo.Z, s.Z)}
		hi = imu.Vector{X: math.Max(hi.X, s.X), Y: math.Max(hi.Y, s.Y), Z: math.Max(hi.Z, s.Z)}
	}
	widen := func(v float64, sign float64) float64 {
		return v + sign*bandMargin*math.Abs(v)
	}
	return Band{
		Lower: imu.Vector{X: widen(lo.X, -1), Y: widen(lo.Y, -1), Z: widen(lo.Z, -1)},
		Upper: imu.Vector{X: widen(hi.X, 1), Y: widen(hi.Y, 1), Z: widen(hi.Z, 1)},
	}
}

// spikeFilter passes a component only when it and the previous dead-zoned
// reading on the same axis are both non-zero.
type spikeFilter struct {
	prev imu.Vector
}

func (f *spikeFilter) next(v imu.Vector) imu.Vector {
	keep := func(cur, prev float64) float64 {
		if cur != 0 && prev != 0 {
			return cur
		}
		return 0
	}
	out := imu.Vector{
		X: keep(v.X, f.prev.X),
		Y: keep(v.Y, f.prev.Y),
		Z: keep(v.Z, f.prev.Z),
	}
	f.prev = v
	return out
}

type Estimator struct {
	sensor   Sensor
	logger   *slog.Logger
	interval time.Duration

	mu          sync.RWMutex
	accelCal    []imu.Vector
	rotationCal []imu.Vector
	calibrated  bool
	accelBand   Band
	rotBand     Band
	accelSpikes spikeFilter
	rotSpikes   spikeFilter
	velocity    imu.Vector
	distance    imu.Vector
	tilt        imu.Vector
	samples     uint64
	err         error
}

func WithLogger(logger *slog.Logger) func(e *Estimator) {
	return func(e *Estimator) {
		e.logger = logger
	}
}

func WithInterval(d time.Duration) func(e *Estimator) {
	return func(e *Estimator) {
		e.interval = d
	}
}

func New(sensor Sensor, opts ...func(e *Estimator)) *Estimator {
	e := &Estimator{
		sensor:      sensor,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval:    DefaultInterval,
		accelCal:    make([]imu.Vector, 0, SampleCount),
		rotationCal: make([]imu.Vector, 0, SampleCount),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run samples the sensor every interval until ctx is cancelled or a read
// fails. A failed read stops the estimator for good; Err reports it.
func (e *Estimator) Run(ctx context.Context) error {
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		accel, err := e.sensor.Acceleration()
		if err != nil {
			return e.fail(fmt.Errorf("reading acceleration: %w", err))
		}
		rotation, err := e.sensor.Rotation()
		if err != nil {
			return e.fail(fmt.Errorf("reading rotation: %w", err))
		}
		e.Update(accel, rotation)
	}
}

func (e *Estimator) fail(err error) error {
	e.logger.Error("motion estimator stopped, estimates are frozen", slog.Any("err", err))
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	return err
}

// Update feeds one sample pair into the estimator.
func (e *Estimator) Update(accel, rotation imu.Vector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples++
	if !e.calibrated {
		e.accelCal = append(e.accelCal, accel)
		e.rotationCal = append(e.rotationCal, rotation)
		if len(e.accelCal) < SampleCount {
			return
		}
		e.accelBand = newBand(e.accelCal)
		e.rotBand = newBand(e.rotationCal)
		e.accelCal, e.rotationCal = nil, nil
		e.calibrated = true
		e.logger.Info("motion estimator calibrated",
			slog.String("accel_lower", e.accelBand.Lower.String()),
			slog.String("accel_upper", e.accelBand.Upper.String()),
			slog.String("rotation_lower", e.rotBand.Lower.String()),
			slog.String("rotation_upper", e.rotBand.Upper.String()))
		return
	}

	a := e.accelSpikes.next(e.accelBand.filter(accel))
	r := e.rotSpikes.next(e.rotBand.filter(rotation))
	e.velocity = e.velocity.Add(a)
	e.distance = e.distance.Add(e.velocity)
	e.tilt = e.tilt.Add(r)
}

func (e *Estimator) Calibrated() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.calibrated
}

// Bands returns the acceleration and rotation dead zones once calibrated.
func (e *Estimator) Bands() (accel, rotation Band, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accelBand, e.rotBand, e.calibrated
}

func (e *Estimator) Distance() imu.Vector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.distance
}

func (e *Estimator) Velocity() imu.Vector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.velocity
}

func (e *Estimator) Tilt() imu.Vector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tilt
}

// Snapshot is a consistent copy of the estimator state.
type Snapshot struct {
	Calibrated bool       `json:"calibrated"`
	Samples    uint64     `json:"samples"`
	Velocity   imu.Vector `json:"velocity"`
	Distance   imu.Vector `json:"distance"`
	Tilt       imu.Vector `json:"tilt"`
	Error      string     `json:"error,omitempty"`
}

func (e *Estimator) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{
		Calibrated: e.calibrated,
		Samples:    e.samples,
		Velocity:   e.velocity,
		Distance:   e.distance,
		Tilt:       e.tilt,
	}
	if e.err != nil {
		s.Error = e.err.Error()
	}
	return s
}

// Err is the read error that stopped Run, if any.
func (e *Estimator) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}
