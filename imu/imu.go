// Package imu defines the inertial sensor contract and the checks run on a
// sensor before flight.
package imu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"
)

// StandardGravity in m/s².
const StandardGravity = 9.80665

var ErrSelfCheck = errors.New("imu: self-check failed")

type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector) Add(o Vector) Vector {
	return Vector{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector) Scale(f float64) Vector {
	return Vector{v.X * f, v.Y * f, v.Z * f}
}

func (v Vector) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}

// Sensor reads acceleration in m/s², rotation in deg/s and temperature in °C.
type Sensor interface {
	Acceleration() (Vector, error)
	Rotation() (Vector, error)
	Temperature() (float64, error)
}

type Axis uint8

const (
	X Axis = iota
	Y
	Z
)

func (a Axis) String() string {
	return [...]string{"x", "y", "z"}[a]
}

// Direction is a signed sensor axis, written "+x", "-z" and so on.
type Direction struct {
	Axis     Axis
	Negative bool
}

func ParseDirection(s string) (Direction, error) {
	if len(s) != 2 || (s[0] != '+' && s[0] != '-') {
		return Direction{}, fmt.Errorf("imu: bad axis %q, want [+-][xyz]", s)
	}
	var d Direction
	switch s[1] {
	case 'x':
		d.Axis = X
	case 'y':
		d.Axis = Y
	case 'z':
		d.Axis = Z
	default:
		return Direction{}, fmt.Errorf("imu: bad axis %q, want [+-][xyz]", s)
	}
	d.Negative = s[0] == '-'
	return d, nil
}

func (d Direction) String() string {
	if d.Negative {
		return "-" + d.Axis.String()
	}
	return "+" + d.Axis.String()
}

// Of picks the signed component of v along d.
func (d Direction) Of(v Vector) float64 {
	c := [...]float64{v.X, v.Y, v.Z}[d.Axis]
	if d.Negative {
		return -c
	}
	return c
}

// Orientation says which sensor axes point towards the front and the left
// of the frame.
type Orientation struct {
	Front, Left Direction
}

func ParseOrientation(front, left string) (Orientation, error) {
	f, err := ParseDirection(front)
	if err != nil {
		return Orientation{}, err
	}
	l, err := ParseDirection(left)
	if err != nil {
		return Orientation{}, err
	}
	if f.Axis == l.Axis {
		return Orientation{}, fmt.Errorf("imu: front and left both on the %s axis", f.Axis)
	}
	return Orientation{Front: f, Left: l}, nil
}

// Tilt reports the frame's rotation about its front and left axes.
func (o Orientation) Tilt(rotation Vector) (front, left float64) {
	return o.Front.Of(rotation), o.Left.Of(rotation)
}

const (
	selfCheckSamples  = 50
	selfCheckInterval = 10 * time.Millisecond
)

type CheckOptions struct {
	Logger *slog.Logger
	// Interval between averaged samples.
	Interval time.Duration
}

// SelfCheck verifies that a resting, level sensor answers with plausible
// data: a room temperature, no rotation and gravity on z only. It must not
// run while flying.
func SelfCheck(ctx context.Context, s Sensor, opts CheckOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	interval := opts.Interval
	if interval == 0 {
		interval = selfCheckInterval
	}

	temp, err := s.Temperature()
	if err != nil {
		return fmt.Errorf("reading temperature: %w", err)
	}
	temp = math.Round(temp)
	logger.Debug("sensor temperature", slog.Float64("celsius", temp))
	if temp < 10 || temp >= 40 {
		return fmt.Errorf("%w: temperature %.0f°C outside 10..40", ErrSelfCheck, temp)
	}
	logger.Info("sensor temperature check passed")

	gyro, err := average(ctx, s.Rotation, interval)
	if err != nil {
		return fmt.Errorf("sampling rotation: %w", err)
	}
	logger.Debug("sensor rotation", slog.String("avg", gyro.String()))
	if !near(gyro.X, 0) || !near(gyro.Y, 0) || !near(gyro.Z, 0) {
		return fmt.Errorf("%w: rotation %s while resting, keep the frame still", ErrSelfCheck, gyro)
	}
	logger.Info("sensor rotation check passed")

	accel, err := average(ctx, s.Acceleration, interval)
	if err != nil {
		return fmt.Errorf("sampling acceleration: %w", err)
	}
	logger.Debug("sensor acceleration", slog.String("avg", accel.String()))
	if !near(accel.X, 0) || !near(accel.Y, 0) || !near(math.Abs(accel.Z), 10) {
		return fmt.Errorf("%w: acceleration %s, want gravity on z only", ErrSelfCheck, accel)
	}
	logger.Info("sensor acceleration check passed")
	return nil
}

func near(v, want float64) bool {
	return math.Round(v) == want
}

func average(ctx context.Context, read func() (Vector, error), interval time.Duration) (Vector, error) {
	var sum Vector
	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 0; i < selfCheckSamples; i++ {
		if err := ctx.Err(); err != nil {
			return Vector{}, err
		}
		v, err := read()
		if err != nil {
			return Vector{}, err
		}
		sum = sum.Add(Vector{round2(v.X), round2(v.Y), round2(v.Z)})
		select {
		case <-ctx.Done():
			return Vector{}, ctx.Err()
		case <-t.C:
		}
	}
	return sum.Scale(1.0 / selfCheckSamples), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
