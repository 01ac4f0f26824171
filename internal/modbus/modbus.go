// Package modbus keeps a Modbus RTU link open, either on a local serial port
// or through a modbushttp gateway, and polls it while it is up.
package modbus

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/w1xm/quadpilot/internal/modbus/modbushttp"
)

const (
	defaultBaudRate = 19200
	defaultRetry    = time.Second
	defaultInterval = 20 * time.Millisecond
)

type linkHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// URL creates a remote connection through a modbus gateway
	URL      string
	Password string

	// Poll is called every Interval while the link is up. An error drops
	// the link and it is reopened after Retry.
	Poll     func() error
	Interval time.Duration
	Retry    time.Duration

	Logger *slog.Logger

	handler linkHandler
	up      atomic.Bool
	modbus.Client
}

func (c *Client) name() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Port
}

func (c *Client) newHandler() linkHandler {
	if c.URL != "" {
		return modbushttp.NewClient(c.URL, c.Password)
	}
	h := modbus.NewRTUClientHandler(c.Port)
	h.BaudRate = c.BaudRate
	if h.BaudRate == 0 {
		h.BaudRate = defaultBaudRate
	}
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.Timeout = time.Second
	h.SlaveId = c.SlaveId
	return h
}

// Connect sets up the link and keeps it open in the background until ctx is
// cancelled. Requests made while it is down fail in the handler.
func (c *Client) Connect(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Retry <= 0 {
		c.Retry = defaultRetry
	}
	c.handler = c.newHandler()
	c.Client = modbus.NewClient(c.handler)
	go c.run(ctx)
	return nil
}

// Connected reports whether the link is open and the last poll succeeded.
func (c *Client) Connected() bool {
	return c.up.Load()
}

func (c *Client) run(ctx context.Context) {
	logger := c.Logger.With(slog.String("port", c.name()))
	defer c.handler.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.Retry):
		}
		if err := c.handler.Connect(); err != nil {
			logger.Warn("opening modbus link", slog.Any("err", err))
			continue
		}
		logger.Info("opened modbus link")
		err := c.poll(ctx)
		c.up.Store(false)
		c.handler.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("modbus link dropped", slog.Any("err", err))
	}
}

func (c *Client) poll(ctx context.Context) error {
	t := time.NewTicker(c.Interval)
	defer t.Stop()
	c.up.Store(true)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if c.Poll == nil {
			continue
		}
		if err := c.Poll(); err != nil {
			return err
		}
	}
}

// BytesToBits unpacks coil or discrete input bytes, least significant bit first.
func BytesToBits(bs []byte) []bool {
	out := make([]bool, 0, 8*len(bs))
	for _, b := range bs {
		for i := range 8 {
			out = append(out, b>>i&1 == 1)
		}
	}
	return out
}
