// Package modbuspwm drives a Modbus RTU servo/ESC controller.
//
// Register map:
//
//	holding register N          pulse width of pin N in microseconds
//	holding register 0x100+N    watchdog timeout of pin N in milliseconds (0 = off)
//	input registers 0-1         controller tick in microseconds (high word first)
//	discrete input N            set while pin N's watchdog is tripped
package modbuspwm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/w1xm/quadpilot/internal/modbus"
	"github.com/w1xm/quadpilot/pwm"
)

const (
	watchdogBase = 0x100
	numPins      = 32
	pollInterval = 20 * time.Millisecond
)

type Config struct {
	Port     string
	BaudRate int
	SlaveID  byte
	// URL of a modbus gateway, used instead of Port when set.
	URL      string
	Password string
}

type Controller struct {
	*pwm.Broker

	logger *slog.Logger
	client *modbus.Client

	mu      sync.Mutex
	tick    uint32
	tripped [numPins]bool
}

func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

func newController(client *modbus.Client, opts ...func(c *Controller)) *Controller {
	c := &Controller{
		Broker: pwm.NewBroker(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		client: client,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("transport", "modbus"))
	client.Poll = c.pollOnce
	return c
}

// Connect opens the controller and starts polling it until ctx is cancelled.
func Connect(ctx context.Context, cfg Config, opts ...func(c *Controller)) (*Controller, error) {
	client := &modbus.Client{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		SlaveId:  cfg.SlaveID,
		URL:      cfg.URL,
		Password: cfg.Password,
		Interval: pollInterval,
	}
	c := newController(client, opts...)
	client.Logger = c.logger
	return c, client.Connect(ctx)
}

func checkPin(pin uint8) error {
	if pin >= numPins {
		return fmt.Errorf("modbus: pin %d out of range", pin)
	}
	return nil
}

func (c *Controller) SetPulse(pin uint8, width uint16) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	if err := pwm.CheckPulse(width); err != nil {
		return err
	}
	if _, err := c.client.WriteSingleRegister(uint16(pin), width); err != nil {
		return fmt.Errorf("writing pulse register %d: %w", pin, err)
	}
	return nil
}

func (c *Controller) SetWatchdog(pin uint8, timeout time.Duration) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	ms := timeout / time.Millisecond
	if ms > 0xFFFF {
		ms = 0xFFFF
	}
	if _, err := c.client.WriteSingleRegister(watchdogBase+uint16(pin), uint16(ms)); err != nil {
		return fmt.Errorf("writing watchdog register %d: %w", pin, err)
	}
	return nil
}

func (c *Controller) pollOnce() error {
	results, err := c.client.ReadInputRegisters(0, 2)
	if err != nil {
		return err
	}
	tick := binary.BigEndian.Uint32(results)

	inputs, err := c.client.ReadDiscreteInputs(0, numPins)
	if err != nil {
		return err
	}
	bits := modbus.BytesToBits(inputs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = tick
	for pin := 0; pin < numPins && pin < len(bits); pin++ {
		if bits[pin] && !c.tripped[pin] {
			c.logger.Debug("watchdog tripped", slog.Int("pin", pin), slog.Uint64("tick", uint64(tick)))
			c.Publish(pwm.Event{Pin: uint8(pin), Level: pwm.Timeout, Tick: tick})
		}
		c.tripped[pin] = bits[pin]
	}
	return nil
}

// Tick is the controller clock as of the last poll.
func (c *Controller) Tick() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

func (c *Controller) Close() error {
	c.Broker.Close()
	return nil
}
