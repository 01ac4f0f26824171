// Package simulator provides an in-memory PWM transport. It models servo
// outputs, pin watchdogs and the rotor speed each ESC would produce, and
// lets tests inject transport failures.
package simulator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/w1xm/quadpilot/pwm"
	"golang.org/x/sync/errgroup"
)

const (
	// Rotor speed at full throttle, in revolutions per minute.
	maxRPM = 12000
	// Maximum rotor acceleration in RPM/second.
	maxAccel = 60000
	// Pulse at and below which an ESC keeps the rotor still.
	idlePulse = 1050
	// Full-throttle pulse assumed by the rotor model.
	fullPulse = 2000
	// Discrete simulation step size.
	stepSize = 5 * time.Millisecond
)

type Channel struct {
	Pulse    uint16
	Watchdog time.Duration
	RPM      float64
	// Stalled pins produce no edges regardless of their pulse.
	Stalled bool
	// Timeouts counts watchdog expiries.
	Timeouts int
}

type Status struct {
	Tick     uint32
	Channels map[uint8]Channel
}

// Call records one transport request.
type Call struct {
	Op    string
	Pin   uint8
	Value int
}

type pin struct {
	Channel
	lastEdge time.Duration
}

type Simulator struct {
	*pwm.Broker

	logger *slog.Logger

	mu       sync.Mutex
	now      time.Duration
	pins     map[uint8]*pin
	failures map[uint8]error
	calls    []Call
}

func WithLogger(logger *slog.Logger) func(s *Simulator) {
	return func(s *Simulator) {
		s.logger = logger
	}
}

func New(opts ...func(s *Simulator)) *Simulator {
	s := &Simulator{
		Broker:   pwm.NewBroker(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		pins:     make(map[uint8]*pin),
		failures: make(map[uint8]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("transport", "sim"))
	return s
}

func (s *Simulator) pin(n uint8) *pin {
	p, ok := s.pins[n]
	if !ok {
		p = &pin{lastEdge: s.now}
		s.pins[n] = p
	}
	return p
}

func (s *Simulator) SetPulse(n uint8, width uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "pulse", Pin: n, Value: int(width)})
	if err := s.failures[n]; err != nil {
		return fmt.Errorf("set pulse on pin %d: %w", n, err)
	}
	if err := pwm.CheckPulse(width); err != nil {
		return err
	}
	p := s.pin(n)
	p.Pulse = width
	if width != 0 && !p.Stalled {
		p.lastEdge = s.now
	}
	s.logger.Debug("pulse", slog.Int("pin", int(n)), slog.Int("width", int(width)))
	return nil
}

func (s *Simulator) SetWatchdog(n uint8, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "watchdog", Pin: n, Value: int(timeout / time.Millisecond)})
	if err := s.failures[n]; err != nil {
		return fmt.Errorf("set watchdog on pin %d: %w", n, err)
	}
	p := s.pin(n)
	p.Watchdog = timeout
	p.lastEdge = s.now
	return nil
}

// FailPin makes every following request for the pin return err. A nil error
// heals the pin.
func (s *Simulator) FailPin(n uint8, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, n)
		return
	}
	s.failures[n] = err
}

// Stall stops the pin from producing edges so its watchdog expires.
func (s *Simulator) Stall(n uint8, stalled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin(n).Stalled = stalled
}

func (s *Simulator) Pulse(n uint8) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pins[n]; ok {
		return p.Pulse
	}
	return 0
}

func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{Tick: tick(s.now), Channels: make(map[uint8]Channel, len(s.pins))}
	for n, p := range s.pins {
		status.Channels[n] = p.Channel
	}
	return status
}

func tick(d time.Duration) uint32 {
	return uint32(d / time.Microsecond)
}

// Run advances the simulation in real time until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.Step(stepSize)
		}
	})
	return g.Wait()
}

// Step advances simulated time by d.
func (s *Simulator) Step(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
	pins := make([]uint8, 0, len(s.pins))
	for n := range s.pins {
		pins = append(pins, n)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	for _, n := range pins {
		p := s.pins[n]
		p.RPM = rotorServo(p.RPM, targetRPM(p.Pulse), d)
		if p.Pulse != 0 && !p.Stalled {
			p.lastEdge = s.now
			continue
		}
		if p.Watchdog > 0 && s.now-p.lastEdge >= p.Watchdog {
			p.lastEdge = s.now
			p.Timeouts++
			s.Publish(pwm.Event{Pin: n, Level: pwm.Timeout, Tick: tick(s.now)})
		}
	}
}

// targetRPM is the speed an ESC settles at for the given pulse.
func targetRPM(width uint16) float64 {
	if width <= idlePulse {
		return 0
	}
	frac := float64(width-idlePulse) / (fullPulse - idlePulse)
	return math.Min(frac, 1) * maxRPM
}

// rotorServo moves the rotor speed towards the target with bounded acceleration.
func rotorServo(rpm, target float64, d time.Duration) float64 {
	delta := math.Abs(target - rpm)
	if limit := maxAccel * d.Seconds(); delta > limit {
		delta = limit
	}
	if target < rpm {
		delta = -delta
	}
	return rpm + delta
}

func (s *Simulator) Close() error {
	s.Broker.Close()
	return nil
}
