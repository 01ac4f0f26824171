// Package rotor coordinates the four motors of a quad-rotor frame.
//
// Every maneuver writes the channels in the order rear-left, rear-right,
// front-left, front-right and keeps going after a channel fails. Writes that
// succeeded before a failure are not undone; the call reports the joined
// errors and the array is left as the writes left it.
package rotor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/w1xm/quadpilot/internal/logging"
	"github.com/w1xm/quadpilot/motor"
)

var (
	ErrYawRange  = errors.New("rotor: yaw out of range")
	ErrTiltRange = errors.New("rotor: tilt out of range")
	ErrParity    = errors.New("rotor: motor rotations do not alternate")
	ErrNotArmed  = errors.New("rotor: motors not started")
	ErrSide      = errors.New("rotor: unknown side")
)

type Position uint8

const (
	FrontLeft Position = iota
	FrontRight
	RearLeft
	RearRight
)

// Positions lists the motors in write order.
var Positions = [4]Position{RearLeft, RearRight, FrontLeft, FrontRight}

func (p Position) String() string {
	switch p {
	case FrontLeft:
		return "front_left"
	case FrontRight:
		return "front_right"
	case RearLeft:
		return "rear_left"
	case RearRight:
		return "rear_right"
	}
	return fmt.Sprintf("Position(%d)", uint8(p))
}

func ParsePosition(s string) (Position, error) {
	for _, p := range Positions {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("rotor: unknown position %q", s)
}

// Side is the part of the frame a tilt lowers.
type Side uint8

const (
	Front Side = iota
	Left
	FrontLeftSide
	FrontRightSide
)

func (s Side) String() string {
	switch s {
	case Front:
		return "front"
	case Left:
		return "left"
	case FrontLeftSide:
		return "front_left"
	case FrontRightSide:
		return "front_right"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

func ParseSide(s string) (Side, error) {
	for _, side := range []Side{Front, Left, FrontLeftSide, FrontRightSide} {
		if strings.EqualFold(s, side.String()) {
			return side, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrSide, s)
}

// tiltSigns holds the factor multiplier per side, indexed by Position.
var tiltSigns = map[Side][4]int{
	Front:          {FrontLeft: -1, FrontRight: -1, RearLeft: 1, RearRight: 1},
	Left:           {FrontLeft: -1, FrontRight: 1, RearLeft: -1, RearRight: 1},
	FrontLeftSide:  {FrontLeft: -1, FrontRight: 0, RearLeft: 1, RearRight: 0},
	FrontRightSide: {FrontLeft: 0, FrontRight: -1, RearLeft: 0, RearRight: 1},
}

// Channels binds a motor to each frame position.
type Channels struct {
	FrontLeft, FrontRight, RearLeft, RearRight *motor.Channel
}

// Status is a point-in-time view of the array.
type Status struct {
	Armed    bool              `json:"armed"`
	Total    int               `json:"total"`
	Throttle map[string]int    `json:"throttle"`
	Rotation map[string]string `json:"rotation"`
}

type Array struct {
	logger   *slog.Logger
	strict   bool
	onChange func(Status)

	// mu serializes maneuvers.
	mu       sync.Mutex
	channels [4]*motor.Channel
}

func WithLogger(logger *slog.Logger) func(a *Array) {
	return func(a *Array) {
		a.logger = logger
	}
}

// WithStrictParity makes New fail when the rotations do not alternate.
func WithStrictParity() func(a *Array) {
	return func(a *Array) {
		a.strict = true
	}
}

// WithStatusCallback calls f with the new status after every command.
func WithStatusCallback(f func(Status)) func(a *Array) {
	return func(a *Array) {
		a.onChange = f
	}
}

func New(ch Channels, opts ...func(a *Array)) (*Array, error) {
	a := &Array{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	a.channels[FrontLeft] = ch.FrontLeft
	a.channels[FrontRight] = ch.FrontRight
	a.channels[RearLeft] = ch.RearLeft
	a.channels[RearRight] = ch.RearRight
	for _, opt := range opts {
		opt(a)
	}
	for _, p := range Positions {
		if a.channels[p] == nil {
			return nil, fmt.Errorf("rotor: no motor at %s", p)
		}
	}
	if err := a.CheckParity(); err != nil {
		if a.strict {
			return nil, err
		}
		a.logger.Log(context.Background(), logging.LevelCritical, "rotations do not cancel, the frame will spin", slog.Any("err", err))
	}
	return a, nil
}

// CheckParity reports whether each side's motors, and so each diagonal,
// turn in opposite directions.
func (a *Array) CheckParity() error {
	var errs []error
	for _, pair := range [][2]Position{
		{FrontLeft, FrontRight},
		{RearLeft, RearRight},
		{FrontLeft, RearLeft},
		{FrontRight, RearRight},
	} {
		if a.channels[pair[0]].Rotation() == a.channels[pair[1]].Rotation() {
			errs = append(errs, fmt.Errorf("%w: %s and %s both %s", ErrParity, pair[0], pair[1], a.channels[pair[0]].Rotation()))
		}
	}
	return errors.Join(errs...)
}

func (a *Array) Channel(p Position) *motor.Channel {
	return a.channels[p]
}

func (a *Array) Throttle(p Position) int {
	return a.channels[p].Throttle()
}

// TotalThrottle is the sum of all four throttles, 0 to 400.
func (a *Array) TotalThrottle() int {
	total := 0
	for _, c := range a.channels {
		total += c.Throttle()
	}
	return total
}

func (a *Array) Armed() bool {
	for _, c := range a.channels {
		if !c.Started() {
			return false
		}
	}
	return true
}

func (a *Array) Status() Status {
	s := Status{
		Armed:    a.Armed(),
		Throttle: make(map[string]int, 4),
		Rotation: make(map[string]string, 4),
	}
	for _, p := range Positions {
		t := a.channels[p].Throttle()
		s.Throttle[p.String()] = t
		s.Rotation[p.String()] = a.channels[p].Rotation().String()
		s.Total += t
	}
	return s
}

func (a *Array) notify() {
	if a.onChange != nil {
		a.onChange(a.Status())
	}
}

// each calls f for every position in write order and joins the failures.
func (a *Array) each(op string, f func(p Position, c *motor.Channel) error) error {
	var errs []error
	for _, p := range Positions {
		if err := f(p, a.channels[p]); err != nil {
			a.logger.Error(op+" failed", slog.String("position", p.String()), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// TurnOn starts every motor.
func (a *Array) TurnOn() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.notify()
	return a.each("start", func(_ Position, c *motor.Channel) error {
		return c.Start()
	})
}

// TurnOff stops every motor, armed or not.
func (a *Array) TurnOff() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.notify()
	return a.each("stop", func(_ Position, c *motor.Channel) error {
		return c.Stop()
	})
}

func (a *Array) checkArmed() error {
	var missing []string
	for _, p := range Positions {
		if !a.channels[p].Started() {
			missing = append(missing, p.String())
		}
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%w: %s", ErrNotArmed, strings.Join(missing, ", "))
		a.logger.Error("maneuver refused", slog.Any("err", err))
		return err
	}
	return nil
}

// apply sets each position to targets[p].
func (a *Array) apply(op string, targets [4]int) error {
	defer a.notify()
	return a.each(op, func(p Position, c *motor.Channel) error {
		return c.SetThrottle(targets[p])
	})
}

// OverallThrottle sets every motor to percent.
func (a *Array) OverallThrottle(percent int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkArmed(); err != nil {
		return err
	}
	return a.apply("throttle", [4]int{percent, percent, percent, percent})
}

// Yaw turns the frame by speeding up one rotation direction and slowing the
// other by y percent of the average throttle. y must be within -100..100.
func (a *Array) Yaw(y int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if y < -100 || y > 100 {
		a.logger.Error("yaw out of range", slog.Int("yaw", y))
		return fmt.Errorf("%w: %d", ErrYawRange, y)
	}
	if err := a.checkArmed(); err != nil {
		return err
	}
	base := a.TotalThrottle() / 4
	factor := base * y / 100
	var targets [4]int
	for p, c := range a.channels {
		if c.Rotation() == motor.CW {
			targets[p] = base + factor
		} else {
			targets[p] = base - factor
		}
	}
	a.logger.Debug("yaw", slog.Int("yaw", y), slog.Int("base", base), slog.Int("factor", factor))
	return a.apply("yaw", targets)
}

// Tilt lowers side by adj percent of the average throttle; a negative adj
// lowers the opposite side. adj must be within -100..100.
func (a *Array) Tilt(side Side, adj int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	signs, ok := tiltSigns[side]
	if !ok {
		a.logger.Error("unknown tilt side", slog.String("side", side.String()), slog.Int("adjustment", adj))
		return fmt.Errorf("%w %s", ErrSide, side)
	}
	if adj < -100 || adj > 100 {
		a.logger.Error("tilt out of range", slog.String("side", side.String()), slog.Int("adjustment", adj))
		return fmt.Errorf("%w: %d", ErrTiltRange, adj)
	}
	if err := a.checkArmed(); err != nil {
		return err
	}
	base := a.TotalThrottle() / 4
	factor := base * adj / 100
	var targets [4]int
	for p := range targets {
		targets[p] = base + signs[p]*factor
	}
	a.logger.Debug("tilt", slog.String("side", side.String()), slog.Int("adjustment", adj), slog.Int("base", base), slog.Int("factor", factor))
	return a.apply("tilt", targets)
}

// Hover evens out the motors at a quarter of the total throttle each. The
// remainder of an uneven total is dropped.
func (a *Array) Hover() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkArmed(); err != nil {
		return err
	}
	base := a.TotalThrottle() / 4
	return a.apply("hover", [4]int{base, base, base, base})
}
