// Package motor drives a single ESC-controlled rotor through a PWM transport.
package motor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/w1xm/quadpilot/pwm"
)

const (
	// StartPulse arms an ESC.
	StartPulse = 1000
	// StopPulse switches the output off.
	StopPulse = 0

	DefaultWatchdog = 100 * time.Millisecond

	// A throttle change of this many points or more is logged as unsafe.
	unsafeStep = 33
)

var (
	ErrAlreadyStarted = errors.New("motor: already started")
	ErrThrottleRange  = errors.New("motor: throttle out of range")
)

type Rotation uint8

const (
	CW Rotation = iota
	CCW
)

func (r Rotation) String() string {
	switch r {
	case CW:
		return "cw"
	case CCW:
		return "ccw"
	}
	return fmt.Sprintf("Rotation(%d)", uint8(r))
}

func ParseRotation(s string) (Rotation, error) {
	switch strings.ToLower(s) {
	case "cw":
		return CW, nil
	case "ccw":
		return CCW, nil
	}
	return 0, fmt.Errorf("motor: unknown rotation %q", s)
}

// PercentMap translates throttle percent to pulse width. Index 1 is the ESC
// minimum and index 100 its maximum; index 0 sits one step below the minimum
// as an explicit zero-thrust pulse that still keeps the ESC armed.
type PercentMap [101]uint16

func NewPercentMap(min, max uint16) PercentMap {
	var m PercentMap
	step := float64(int(max)-int(min)) / 99
	anchor := float64(min) - step
	for p := range m {
		m[p] = uint16(math.Max(0, math.Round(anchor+step*float64(p))))
	}
	return m
}

type Config struct {
	Pin      uint8
	Rotation Rotation
	// Min and Max are the ESC's throttle end points in microseconds and
	// must satisfy Min < Max.
	Min, Max uint16
}

// Channel is one motor. Its methods may be called from several goroutines,
// but throttle changes are meant to come from a single command path.
type Channel struct {
	pin       uint8
	rotation  Rotation
	table     PercentMap
	transport pwm.Transport
	watchdog  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	started  bool
	throttle int
	sub      *pwm.Subscription
}

func WithLogger(logger *slog.Logger) func(c *Channel) {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithWatchdog overrides how long the transport waits for an edge before
// reporting the pin.
func WithWatchdog(timeout time.Duration) func(c *Channel) {
	return func(c *Channel) {
		c.watchdog = timeout
	}
}

func New(transport pwm.Transport, cfg Config, opts ...func(c *Channel)) *Channel {
	c := &Channel{
		pin:       cfg.Pin,
		rotation:  cfg.Rotation,
		table:     NewPercentMap(cfg.Min, cfg.Max),
		transport: transport,
		watchdog:  DefaultWatchdog,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.Int("pin", int(c.pin)), slog.String("rotation", c.rotation.String()))
	return c
}

func (c *Channel) Pin() uint8         { return c.pin }
func (c *Channel) Rotation() Rotation { return c.rotation }
func (c *Channel) Map() PercentMap    { return c.table }

func (c *Channel) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Throttle is the last throttle percent the transport accepted.
func (c *Channel) Throttle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttle
}

// Start arms the ESC and the pin watchdog. A channel that is already started
// is left alone and ErrAlreadyStarted returned.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.logger.Warn("motor already started")
		return ErrAlreadyStarted
	}
	if err := c.transport.SetPulse(c.pin, StartPulse); err != nil {
		c.logger.Error("sending start pulse", slog.Int("pulse", StartPulse), slog.Any("err", err))
		return fmt.Errorf("starting motor on pin %d: %w", c.pin, err)
	}
	if err := c.transport.SetWatchdog(c.pin, c.watchdog); err != nil {
		c.logger.Error("arming watchdog", slog.Duration("timeout", c.watchdog), slog.Any("err", err))
		c.abortStart()
		return fmt.Errorf("arming watchdog on pin %d: %w", c.pin, err)
	}
	sub, err := c.transport.Subscribe(c.pin)
	if err != nil {
		c.logger.Error("subscribing to pin events", slog.Any("err", err))
		c.transport.SetWatchdog(c.pin, 0)
		c.abortStart()
		return fmt.Errorf("subscribing to pin %d: %w", c.pin, err)
	}
	c.started = true
	c.throttle = 0
	c.sub = sub
	go c.watch(sub)
	c.logger.Info("motor started")
	return nil
}

// abortStart switches the output back off after a partial start.
func (c *Channel) abortStart() {
	if err := c.transport.SetPulse(c.pin, StopPulse); err != nil {
		c.logger.Error("sending stop pulse after failed start", slog.Any("err", err))
	}
}

// watch logs transport notifications for the pin until the subscription is
// cancelled. It never touches channel state.
func (c *Channel) watch(sub *pwm.Subscription) {
	for ev := range sub.C {
		if ev.Level == pwm.Timeout {
			c.logger.Warn("no signal on pin within watchdog timeout", slog.Uint64("tick", uint64(ev.Tick)))
			continue
		}
		c.logger.Debug("edge", slog.String("level", ev.Level.String()), slog.Uint64("tick", uint64(ev.Tick)))
	}
}

// Stop sends the stop pulse whatever the channel state. On failure nothing is
// reset so the call can be retried.
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.logger.Warn("stopping motor that was not started")
	}
	if err := c.transport.SetPulse(c.pin, StopPulse); err != nil {
		c.logger.Error("sending stop pulse", slog.Any("err", err))
		return fmt.Errorf("stopping motor on pin %d: %w", c.pin, err)
	}
	wasStarted := c.started
	c.started = false
	c.throttle = 0
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
	if wasStarted {
		if err := c.transport.SetWatchdog(c.pin, 0); err != nil {
			c.logger.Warn("disarming watchdog", slog.Any("err", err))
		}
	}
	c.logger.Info("motor stopped")
	return nil
}

// SetThrottle sends the pulse for percent. It panics if the channel was not
// started: throttling an unarmed ESC is a programming error.
func (c *Channel) SetThrottle(percent int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		panic(fmt.Sprintf("motor: throttle set on pin %d before start", c.pin))
	}
	if percent < 0 || percent > 100 {
		c.logger.Error("throttle out of range", slog.Int("percent", percent))
		return fmt.Errorf("%w: %d", ErrThrottleRange, percent)
	}
	pulse := c.pulseFor(percent)
	if err := c.transport.SetPulse(c.pin, pulse); err != nil {
		c.logger.Error("sending throttle pulse", slog.Int("percent", percent), slog.Int("pulse", int(pulse)), slog.Any("err", err))
		return fmt.Errorf("throttle %d%% on pin %d: %w", percent, c.pin, err)
	}
	before := c.throttle
	c.throttle = percent
	if delta := percent - before; delta >= unsafeStep || -delta >= unsafeStep {
		c.logger.Warn("unsafe throttle step", slog.Int("from", before), slog.Int("to", percent))
	}
	c.logger.Debug("throttle", slog.Int("from", before), slog.Int("to", percent), slog.Int("pulse", int(pulse)))
	return nil
}

func (c *Channel) pulseFor(percent int) uint16 {
	switch {
	case percent < 0:
		c.logger.Warn("clamping throttle", slog.Int("percent", percent), slog.Int("clamped", 0))
		percent = 0
	case percent > 100:
		c.logger.Warn("clamping throttle", slog.Int("percent", percent), slog.Int("clamped", 100))
		percent = 100
	}
	return c.table[percent]
}
