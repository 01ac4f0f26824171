// Package hardware turns a configuration into live transports, motors and
// sensors.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/w1xm/quadpilot/imu"
	"github.com/w1xm/quadpilot/imu/i2c"
	"github.com/w1xm/quadpilot/imu/lsm6ds3tr"
	"github.com/w1xm/quadpilot/imu/mpu6050"
	imusim "github.com/w1xm/quadpilot/imu/simulator"
	"github.com/w1xm/quadpilot/internal/config"
	"github.com/w1xm/quadpilot/motor"
	"github.com/w1xm/quadpilot/pwm"
	"github.com/w1xm/quadpilot/pwm/modbuspwm"
	"github.com/w1xm/quadpilot/pwm/pigpio"
	"github.com/w1xm/quadpilot/pwm/serialpwm"
	"github.com/w1xm/quadpilot/pwm/simulator"
	"github.com/w1xm/quadpilot/rotor"
	"golang.org/x/sync/errgroup"
)

// OpenTransport connects the configured PWM transport. Transports with a
// background loop of their own are started on g.
func OpenTransport(ctx context.Context, g *errgroup.Group, cfg config.PWM, logger *slog.Logger) (pwm.Transport, error) {
	switch cfg.Transport {
	case config.TransportPigpio:
		if !pigpio.DaemonRunning() {
			if !cfg.StartDaemon {
				return nil, errors.New("pigpiod is not running")
			}
			logger.Info("starting pigpiod", slog.Int("samplerate", cfg.SampleRate))
			if err := pigpio.StartDaemon(ctx, cfg.SampleRate); err != nil {
				return nil, err
			}
		}
		c, err := pigpio.Dial(ctx, cfg.Addr, pigpio.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.TransportSerial:
		b, err := serialpwm.Connect(ctx, cfg.Port, cfg.Baud, serialpwm.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.TransportModbus:
		c, err := modbuspwm.Connect(ctx, modbuspwm.Config{
			Port:     cfg.Port,
			BaudRate: cfg.Baud,
			SlaveID:  byte(cfg.SlaveID),
			URL:      cfg.URL,
			Password: cfg.Password,
		}, modbuspwm.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.TransportSim:
		sim := simulator.New(simulator.WithLogger(logger))
		g.Go(func() error { return sim.Run(ctx) })
		return sim, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// NewArray builds the four motor channels on t and groups them.
func NewArray(t pwm.Transport, cfg *config.Config, logger *slog.Logger, opts ...func(a *rotor.Array)) (*rotor.Array, error) {
	channel := func(m config.Motor) (*motor.Channel, error) {
		rotation, err := motor.ParseRotation(m.Rotation)
		if err != nil {
			return nil, err
		}
		return motor.New(t, motor.Config{
			Pin:      uint8(m.Pin),
			Rotation: rotation,
			Min:      uint16(cfg.ESC.Minimum),
			Max:      uint16(cfg.ESC.Maximum),
		}, motor.WithLogger(logger), motor.WithWatchdog(time.Duration(cfg.Rotor.Watchdog))), nil
	}
	var ch rotor.Channels
	var err error
	for _, m := range []struct {
		dst **motor.Channel
		cfg config.Motor
	}{
		{&ch.FrontLeft, cfg.Motors.FrontLeft},
		{&ch.FrontRight, cfg.Motors.FrontRight},
		{&ch.RearLeft, cfg.Motors.RearLeft},
		{&ch.RearRight, cfg.Motors.RearRight},
	} {
		if *m.dst, err = channel(m.cfg); err != nil {
			return nil, err
		}
	}
	opts = append([]func(a *rotor.Array){rotor.WithLogger(logger)}, opts...)
	if cfg.Rotor.StrictParity {
		opts = append(opts, rotor.WithStrictParity())
	}
	return rotor.New(ch, opts...)
}

// TrimOffsets maps each motor pin to its configured trim.
func TrimOffsets(m config.Motors) map[uint8]int {
	offsets := make(map[uint8]int)
	for _, motor := range m.Each() {
		if motor.Trim != 0 {
			offsets[uint8(motor.Pin)] = motor.Trim
		}
	}
	return offsets
}

// OpenSensor opens the configured IMU. close releases its bus.
func OpenSensor(cfg config.Gyro) (s imu.Sensor, close func() error, err error) {
	if cfg.Driver == config.DriverSim {
		return imusim.New(uint64(time.Now().UnixNano())), func() error { return nil }, nil
	}
	path := cfg.Bus
	if n, err := strconv.Atoi(path); err == nil {
		path = i2c.Path(n)
	}
	bus, err := i2c.Open(path)
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Driver {
	case config.DriverMPU6050:
		d := mpu6050.New(bus, cfg.AddressValue())
		if err := d.Configure(); err != nil {
			bus.Close()
			return nil, nil, err
		}
		return d, bus.Close, nil
	case config.DriverLSM6DS3TR:
		d, err := lsm6ds3tr.New(bus, cfg.AddressValue())
		if err != nil {
			bus.Close()
			return nil, nil, err
		}
		return d, bus.Close, nil
	}
	bus.Close()
	return nil, nil, fmt.Errorf("unknown gyro driver %q", cfg.Driver)
}
