// Command easyaccess flies the rotor array from the keyboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/w1xm/quadpilot/internal/config"
	"github.com/w1xm/quadpilot/internal/hardware"
	"github.com/w1xm/quadpilot/internal/logging"
	"github.com/w1xm/quadpilot/pwm"
	"github.com/w1xm/quadpilot/pwm/simulator"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "quadpilot.yaml", "configuration file")
	logFile    = flag.String("log", "easyaccess.log", "log file when the configuration logs to stderr")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// The terminal belongs to the dashboard.
	output := cfg.Log.Output
	if output == "" {
		output = *logFile
	}
	log, err := logging.New(cfg.Log.Level, output)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	transport, err := hardware.OpenTransport(ctx, g, cfg.PWM, logger)
	if err != nil {
		return fmt.Errorf("opening %s transport: %w", cfg.PWM.Transport, err)
	}
	trim := pwm.NewTrim(transport, hardware.TrimOffsets(cfg.Motors))
	defer trim.Close()
	array, err := hardware.NewArray(trim, cfg, logger)
	if err != nil {
		return err
	}

	var rpm func(pin uint8) (float64, bool)
	if sim, ok := transport.(*simulator.Simulator); ok {
		rpm = func(pin uint8) (float64, bool) {
			ch, ok := sim.Status().Channels[pin]
			return ch.RPM, ok
		}
	}

	_, runErr := tea.NewProgram(NewModel(array, rpm), tea.WithAltScreen()).Run()
	if err := array.TurnOff(); err != nil {
		logger.Error("disarming on exit", slog.Any("err", err))
	}
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return runErr
}
