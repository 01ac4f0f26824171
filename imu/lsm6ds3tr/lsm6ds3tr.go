// Package lsm6ds3tr adapts the tinygo LSM6DS3TR driver to imu.Sensor.
package lsm6ds3tr

import (
	"fmt"

	"github.com/w1xm/quadpilot/imu"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/lsm6ds3tr"
)

const DefaultAddress = lsm6ds3tr.Address

// reader is the part of *lsm6ds3tr.Device used here. Readings are in µg,
// µ°/s and m°C.
type reader interface {
	ReadAcceleration() (x, y, z int32, err error)
	ReadRotation() (x, y, z int32, err error)
	ReadTemperature() (int32, error)
}

type Device struct {
	dev reader
}

// New configures the chip at addr for ±4 g and ±500 °/s at 1.66 kHz.
func New(bus drivers.I2C, addr uint16) (*Device, error) {
	dev := lsm6ds3tr.New(bus)
	if addr != 0 {
		dev.Address = addr
	}
	err := dev.Configure(lsm6ds3tr.Configuration{
		AccelRange:      lsm6ds3tr.ACCEL_4G,
		AccelSampleRate: lsm6ds3tr.ACCEL_SR_1666,
		GyroRange:       lsm6ds3tr.GYRO_500DPS,
		GyroSampleRate:  lsm6ds3tr.GYRO_SR_1666,
	})
	if err != nil {
		return nil, fmt.Errorf("lsm6ds3tr at 0x%02x: %w", dev.Address, err)
	}
	return &Device{dev: dev}, nil
}

func micro(x, y, z int32, scale float64) imu.Vector {
	return imu.Vector{X: float64(x), Y: float64(y), Z: float64(z)}.Scale(scale * 1e-6)
}

// Acceleration in m/s².
func (d *Device) Acceleration() (imu.Vector, error) {
	x, y, z, err := d.dev.ReadAcceleration()
	if err != nil {
		return imu.Vector{}, fmt.Errorf("lsm6ds3tr: reading acceleration: %w", err)
	}
	return micro(x, y, z, imu.StandardGravity), nil
}

// Rotation in °/s.
func (d *Device) Rotation() (imu.Vector, error) {
	x, y, z, err := d.dev.ReadRotation()
	if err != nil {
		return imu.Vector{}, fmt.Errorf("lsm6ds3tr: reading rotation: %w", err)
	}
	return micro(x, y, z, 1), nil
}

// Temperature in °C.
func (d *Device) Temperature() (float64, error) {
	t, err := d.dev.ReadTemperature()
	if err != nil {
		return 0, fmt.Errorf("lsm6ds3tr: reading temperature: %w", err)
	}
	return float64(t) / 1000, nil
}
