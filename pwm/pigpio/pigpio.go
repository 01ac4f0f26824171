// Package pigpio drives servo outputs through the pigpiod socket interface.
//
// Commands go over one connection as four little-endian uint32 words
// {cmd, p1, p2, p3}; the daemon answers with the same words, the last one
// replaced by a signed result. Edge and watchdog reports arrive on a second
// connection switched into notification mode.
package pigpio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/w1xm/quadpilot/pwm"
	"golang.org/x/sync/errgroup"
)

const DefaultAddr = "localhost:8888"

const (
	cmdServo = 8
	cmdWdog  = 9
	cmdBR1   = 10
	cmdHwver = 17
	cmdNB    = 19
	cmdNC    = 21
	cmdNoib  = 99
)

const (
	flagWatchdog = 1 << 5
	flagAlive    = 1 << 6
	flagEvent    = 1 << 7
	flagGPIO     = 0x1f
)

// maxWatchdog is the longest watchdog pigpiod accepts.
const maxWatchdog = 60000 * time.Millisecond

const reportSize = 12

// Error is a negative status returned by pigpiod.
type Error int32

var errorNames = map[Error]string{
	-2:  "bad user gpio",
	-8:  "bad pulsewidth",
	-15: "bad watchdog timeout",
	-24: "bad handle",
	-41: "notify failed",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return fmt.Sprintf("pigpio: %s (%d)", name, int32(e))
	}
	return fmt.Sprintf("pigpio: error %d", int32(e))
}

type Client struct {
	*pwm.Broker

	logger *slog.Logger

	mu     sync.Mutex
	cmd    net.Conn
	notify net.Conn
	handle uint32
	levels uint32
	closed bool

	g *errgroup.Group
}

func WithLogger(logger *slog.Logger) func(c *Client) {
	return func(c *Client) {
		c.logger = logger
	}
}

// Dial connects to pigpiod at addr and opens the notification channel.
func Dial(ctx context.Context, addr string, opts ...func(c *Client)) (*Client, error) {
	c := &Client{
		Broker: pwm.NewBroker(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("transport", "pigpio"), slog.String("addr", addr))

	var d net.Dialer
	cmd, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to pigpiod: %w", err)
	}
	c.cmd = cmd
	hw, err := c.command(cmdHwver, 0, 0)
	if err != nil {
		cmd.Close()
		return nil, err
	}
	c.logger.Info("connected to pigpiod", slog.String("hardware", fmt.Sprintf("%x", hw)))
	levels, err := c.command(cmdBR1, 0, 0)
	if err != nil {
		cmd.Close()
		return nil, err
	}
	c.levels = levels

	notify, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		cmd.Close()
		return nil, fmt.Errorf("opening notification channel: %w", err)
	}
	handle, err := exchange(notify, cmdNoib, 0, 0)
	if err != nil {
		cmd.Close()
		notify.Close()
		return nil, err
	}
	c.notify = notify
	c.handle = handle

	c.g = new(errgroup.Group)
	c.g.Go(c.watch)
	return c, nil
}

func exchange(conn net.Conn, cmd, p1, p2 uint32) (uint32, error) {
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:], cmd)
	binary.LittleEndian.PutUint32(buf[4:], p1)
	binary.LittleEndian.PutUint32(buf[8:], p2)
	if _, err := conn.Write(buf[:]); err != nil {
		return 0, err
	}
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	res := int32(binary.LittleEndian.Uint32(buf[12:]))
	if res < 0 {
		return 0, Error(res)
	}
	return uint32(res), nil
}

func (c *Client) command(cmd, p1, p2 uint32) (uint32, error) {
	if c.cmd == nil {
		return 0, pwm.ErrNotConnected
	}
	return exchange(c.cmd, cmd, p1, p2)
}

func (c *Client) SetPulse(pin uint8, width uint16) error {
	if err := pwm.CheckPulse(width); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.command(cmdServo, uint32(pin), uint32(width)); err != nil {
		return fmt.Errorf("servo pulse on gpio %d: %w", pin, err)
	}
	return nil
}

func (c *Client) SetWatchdog(pin uint8, timeout time.Duration) error {
	if timeout > maxWatchdog {
		timeout = maxWatchdog
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.command(cmdWdog, uint32(pin), uint32(timeout/time.Millisecond)); err != nil {
		return fmt.Errorf("watchdog on gpio %d: %w", pin, err)
	}
	return nil
}

// Subscribe enables reports for pin on the notification handle. Reports
// follow the set of pins with live subscriptions.
func (c *Client) Subscribe(pin uint8) (*pwm.Subscription, error) {
	if pin > pwm.MaxPin {
		return nil, Error(-2)
	}
	sub, err := c.Broker.Subscribe(pin)
	if err != nil {
		return nil, err
	}
	if err := c.updateReports(); err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("enabling reports for gpio %d: %w", pin, err)
	}
	return pwm.NewSubscription(sub.C, func() {
		sub.Cancel()
		if err := c.updateReports(); err != nil && !errors.Is(err, pwm.ErrClosed) {
			c.logger.Warn("disabling reports", slog.Int("gpio", int(pin)), slog.Any("err", err))
		}
	}), nil
}

func (c *Client) updateReports() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pwm.ErrClosed
	}
	_, err := c.command(cmdNB, c.handle, c.Pins())
	return err
}

func (c *Client) watch() error {
	var buf [reportSize]byte
	for {
		if _, err := io.ReadFull(c.notify, buf[:]); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.logger.Error("notification channel lost", slog.Any("err", err))
			return err
		}
		c.report(
			binary.LittleEndian.Uint16(buf[2:]),
			binary.LittleEndian.Uint32(buf[4:]),
			binary.LittleEndian.Uint32(buf[8:]),
		)
	}
}

func (c *Client) report(flags uint16, tick, level uint32) {
	if flags&flagWatchdog != 0 {
		c.Publish(pwm.Event{Pin: uint8(flags & flagGPIO), Level: pwm.Timeout, Tick: tick})
		return
	}
	if flags&(flagAlive|flagEvent) != 0 {
		return
	}
	c.mu.Lock()
	changed := (level ^ c.levels) & c.Pins()
	c.levels = level
	c.mu.Unlock()
	for pin := uint8(0); pin <= flagGPIO; pin++ {
		if changed&(1<<pin) == 0 {
			continue
		}
		lvl := pwm.Low
		if level&(1<<pin) != 0 {
			lvl = pwm.High
		}
		c.Publish(pwm.Event{Pin: pin, Level: lvl, Tick: tick})
	}
}

// Close releases the notification handle and both connections.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	_, err := c.command(cmdNC, c.handle, 0)
	c.cmd.Close()
	c.notify.Close()
	c.mu.Unlock()

	c.Broker.Close()
	if werr := c.g.Wait(); err == nil {
		err = werr
	}
	return err
}
