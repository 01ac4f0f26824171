// Package serialpwm talks to a microcontroller PWM bridge over a serial line.
//
// Host to bridge:
//
//	p<pin> <width>   set pulse width in microseconds (0 = off)
//	w<pin> <ms>      set watchdog timeout (0 = off)
//	n<pin> <0|1>     stop/start reporting edges and timeouts of pin
//
// Bridge to host:
//
//	e<pin> <level> <tick>   edge seen on pin
//	t<pin> <tick>           watchdog expired on pin
//	!<text>                 diagnostic message
//
// Numbers are decimal; lines end with '\n'.
package serialpwm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/w1xm/quadpilot/pwm"
)

type Bridge struct {
	*pwm.Broker

	logger *slog.Logger

	mu     sync.Mutex
	s      io.ReadWriteCloser
	pulses    map[uint8]uint16
	watchdogs map[uint8]time.Duration
	notify    map[uint8]int
}

func WithLogger(logger *slog.Logger) func(b *Bridge) {
	return func(b *Bridge) {
		b.logger = logger
	}
}

func newBridge(opts ...func(b *Bridge)) *Bridge {
	b := &Bridge{
		Broker: pwm.NewBroker(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		pulses:    make(map[uint8]uint16),
		watchdogs: make(map[uint8]time.Duration),
		notify:    make(map[uint8]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(slog.String("transport", "serial"))
	return b
}

// Connect keeps the bridge on port open until ctx is cancelled, reconnecting
// after errors. Requests fail with pwm.ErrNotConnected while the port is down.
func Connect(ctx context.Context, port string, baud int, opts ...func(b *Bridge)) (*Bridge, error) {
	b := newBridge(opts...)
	go b.reconnectLoop(ctx, port, baud)
	return b, nil
}

func (b *Bridge) reconnectLoop(ctx context.Context, port string, baud int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		c := &serial.Config{Name: port, Baud: baud}
		s, err := serial.OpenPort(c)
		if err != nil {
			b.logger.Warn("opening serial port", slog.String("port", port), slog.Any("err", err))
			continue
		}
		b.logger.Info("opened serial port", slog.String("port", port))
		b.attach(s)
		b.resend()
		b.watch(ctx)
		b.detach()
	}
}

func (b *Bridge) attach(s io.ReadWriteCloser) {
	b.mu.Lock()
	b.s = s
	b.mu.Unlock()
}

func (b *Bridge) detach() {
	b.mu.Lock()
	if b.s != nil {
		b.s.Close()
	}
	b.s = nil
	b.mu.Unlock()
}

// resend restores notifications, watchdogs and the last known pulses after
// the bridge (re)connects. Watchdogs go out before pulses.
func (b *Bridge) resend() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pin := range b.notify {
		if err := b.writeLocked(fmt.Sprintf("n%d 1\n", pin)); err != nil {
			b.logger.Warn("restoring notifications", slog.Int("pin", int(pin)), slog.Any("err", err))
		}
	}
	for pin, timeout := range b.watchdogs {
		if err := b.writeLocked(fmt.Sprintf("w%d %d\n", pin, timeout/time.Millisecond)); err != nil {
			b.logger.Warn("restoring watchdog", slog.Int("pin", int(pin)), slog.Any("err", err))
		}
	}
	for pin, width := range b.pulses {
		if err := b.writeLocked(fmt.Sprintf("p%d %d\n", pin, width)); err != nil {
			b.logger.Warn("restoring pulse", slog.Int("pin", int(pin)), slog.Any("err", err))
		}
	}
}

func (b *Bridge) watch(ctx context.Context) {
	b.mu.Lock()
	s := b.s
	b.mu.Unlock()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()
	scanner := bufio.NewScanner(s)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if len(input) < 1 {
			continue
		}
		if err := b.parseInput(input); err != nil {
			b.logger.Warn("parsing bridge output", slog.String("input", input), slog.Any("err", err))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		b.logger.Warn("reading serial port", slog.Any("err", err))
	}
}

func (b *Bridge) parseInput(input string) error {
	switch input[0] {
	case '!':
		b.logger.Info("bridge", slog.String("message", input[1:]))
		return nil
	case 'e':
		fields, err := parseFields(input[1:], 3)
		if err != nil {
			return err
		}
		level := pwm.Low
		if fields[1] != 0 {
			level = pwm.High
		}
		b.Publish(pwm.Event{Pin: uint8(fields[0]), Level: level, Tick: uint32(fields[2])})
	case 't':
		fields, err := parseFields(input[1:], 2)
		if err != nil {
			return err
		}
		b.Publish(pwm.Event{Pin: uint8(fields[0]), Level: pwm.Timeout, Tick: uint32(fields[1])})
	default:
		return fmt.Errorf("unknown input")
	}
	return nil
}

func parseFields(input string, n int) ([]uint64, error) {
	words := strings.Fields(input)
	if len(words) != n {
		return nil, fmt.Errorf("want %d fields, got %d", n, len(words))
	}
	out := make([]uint64, n)
	for i, word := range words {
		v, err := strconv.ParseUint(word, 10, 32)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (b *Bridge) writeLocked(line string) error {
	if b.s == nil {
		return pwm.ErrNotConnected
	}
	b.logger.Debug("writing", slog.String("line", strings.TrimSpace(line)))
	_, err := io.WriteString(b.s, line)
	return err
}

func (b *Bridge) SetPulse(pin uint8, width uint16) error {
	if err := pwm.CheckPulse(width); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeLocked(fmt.Sprintf("p%d %d\n", pin, width)); err != nil {
		return fmt.Errorf("set pulse on pin %d: %w", pin, err)
	}
	b.pulses[pin] = width
	return nil
}

func (b *Bridge) SetWatchdog(pin uint8, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writeLocked(fmt.Sprintf("w%d %d\n", pin, timeout/time.Millisecond)); err != nil {
		return fmt.Errorf("set watchdog on pin %d: %w", pin, err)
	}
	if timeout <= 0 {
		delete(b.watchdogs, pin)
	} else {
		b.watchdogs[pin] = timeout
	}
	return nil
}

// Subscribe asks the bridge to report pin. The request is replayed on
// reconnect, so a subscription made while the port is down still works.
func (b *Bridge) Subscribe(pin uint8) (*pwm.Subscription, error) {
	sub, err := b.Broker.Subscribe(pin)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.notify[pin]++
	if b.notify[pin] == 1 && b.s != nil {
		if err := b.writeLocked(fmt.Sprintf("n%d 1\n", pin)); err != nil {
			b.logger.Warn("enabling notifications", slog.Int("pin", int(pin)), slog.Any("err", err))
		}
	}
	b.mu.Unlock()
	return pwm.NewSubscription(sub.C, func() {
		sub.Cancel()
		b.unnotify(pin)
	}), nil
}

func (b *Bridge) unnotify(pin uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify[pin]--
	if b.notify[pin] > 0 {
		return
	}
	delete(b.notify, pin)
	if b.s == nil {
		return
	}
	if err := b.writeLocked(fmt.Sprintf("n%d 0\n", pin)); err != nil {
		b.logger.Warn("disabling notifications", slog.Int("pin", int(pin)), slog.Any("err", err))
	}
}

func (b *Bridge) Close() error {
	b.detach()
	b.Broker.Close()
	return nil
}
