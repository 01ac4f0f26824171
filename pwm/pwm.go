// Package pwm defines the pulse-width transport that motor channels drive,
// plus helpers shared by the concrete transports in its subpackages.
package pwm

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Pulse widths accepted by servo-style outputs, in microseconds. Zero switches
// the output off.
const (
	MinPulse = 500
	MaxPulse = 2500
)

// MaxPin is the highest pin a transport reports events for.
const MaxPin = 31

var (
	ErrNotConnected = errors.New("pwm: transport not connected")
	ErrClosed       = errors.New("pwm: transport closed")
	ErrPulseRange   = errors.New("pwm: pulse width out of range")
)

type Level uint8

const (
	Low Level = iota
	High
	// Timeout is reported when a pin's watchdog expired without an edge.
	Timeout
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case High:
		return "HIGH"
	case Timeout:
		return "TIMEOUT"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(l))
}

// Event is an edge or watchdog notification for one pin. Tick is the
// transport's microsecond clock and wraps.
type Event struct {
	Pin   uint8
	Level Level
	Tick  uint32
}

type Transport interface {
	SetPulse(pin uint8, width uint16) error
	// SetWatchdog arms the pin's watchdog; a zero timeout disarms it.
	SetWatchdog(pin uint8, timeout time.Duration) error
	Subscribe(pin uint8) (*Subscription, error)
}

type Closer interface {
	Close() error
}

// Subscription delivers events for a single pin until cancelled. C is closed
// on Cancel or when the transport shuts down.
type Subscription struct {
	C <-chan Event

	once   sync.Once
	cancel func()
}

// NewSubscription wraps c for transports that do their own bookkeeping.
// cancel runs at most once.
func NewSubscription(c <-chan Event, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// CheckPulse reports whether width can be sent to a servo output.
func CheckPulse(width uint16) error {
	if width != 0 && (width < MinPulse || width > MaxPulse) {
		return fmt.Errorf("%w: %dus", ErrPulseRange, width)
	}
	return nil
}
