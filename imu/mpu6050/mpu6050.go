// Package mpu6050 reads an InvenSense MPU-6050 over I2C, configured for
// ±2 g and ±250 °/s full scale.
package mpu6050

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/w1xm/quadpilot/imu"
	"tinygo.org/x/drivers"
)

const DefaultAddress = 0x68

const (
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelOut    = 0x3B
	regTempOut     = 0x41
	regGyroOut     = 0x43
	regPowerMgmt1  = 0x6B
	regWhoAmI      = 0x75

	whoAmI = 0x68

	accelLSBPerG   = 16384.0
	gyroLSBPerDegS = 131.0
)

type Device struct {
	bus  drivers.I2C
	addr uint16

	mu  sync.Mutex
	buf [6]byte
}

func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &Device{bus: bus, addr: addr}
}

// Configure wakes the chip and selects the most sensitive ranges.
func (d *Device) Configure() error {
	id, err := d.read(regWhoAmI, 1)
	if err != nil {
		return fmt.Errorf("mpu6050 at 0x%02x: %w", d.addr, err)
	}
	if id[0]&0x7E != whoAmI {
		return fmt.Errorf("mpu6050 at 0x%02x: unexpected WHO_AM_I 0x%02x", d.addr, id[0])
	}
	for _, w := range [][2]byte{
		{regPowerMgmt1, 0x00},
		{regGyroConfig, 0x00},
		{regAccelConfig, 0x00},
	} {
		if err := d.bus.Tx(d.addr, w[:], nil); err != nil {
			return fmt.Errorf("mpu6050 at 0x%02x: writing 0x%02x: %w", d.addr, w[0], err)
		}
	}
	return nil
}

func (d *Device) read(reg byte, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.bus.Tx(d.addr, []byte{reg}, d.buf[:n]); err != nil {
		return nil, err
	}
	return append([]byte(nil), d.buf[:n]...), nil
}

func (d *Device) vector(reg byte, scale float64) (imu.Vector, error) {
	b, err := d.read(reg, 6)
	if err != nil {
		return imu.Vector{}, err
	}
	axis := func(i int) float64 {
		return float64(int16(binary.BigEndian.Uint16(b[i:]))) / scale
	}
	return imu.Vector{X: axis(0), Y: axis(2), Z: axis(4)}, nil
}

// Acceleration in m/s².
func (d *Device) Acceleration() (imu.Vector, error) {
	v, err := d.vector(regAccelOut, accelLSBPerG)
	if err != nil {
		return imu.Vector{}, fmt.Errorf("mpu6050: reading acceleration: %w", err)
	}
	return v.Scale(imu.StandardGravity), nil
}

// Rotation in °/s.
func (d *Device) Rotation() (imu.Vector, error) {
	v, err := d.vector(regGyroOut, gyroLSBPerDegS)
	if err != nil {
		return imu.Vector{}, fmt.Errorf("mpu6050: reading rotation: %w", err)
	}
	return v, nil
}

// Temperature in °C, rounded to one decimal.
func (d *Device) Temperature() (float64, error) {
	b, err := d.read(regTempOut, 2)
	if err != nil {
		return 0, fmt.Errorf("mpu6050: reading temperature: %w", err)
	}
	raw := float64(int16(binary.BigEndian.Uint16(b)))
	return math.Round((raw/340+36.53)*10) / 10, nil
}
