// Command autopilot runs the rotor array behind a web API, a websocket status
// stream and a line-based control socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/w1xm/quadpilot/imu"
	"github.com/w1xm/quadpilot/internal/config"
	"github.com/w1xm/quadpilot/internal/hardware"
	"github.com/w1xm/quadpilot/internal/logging"
	"github.com/w1xm/quadpilot/motion"
	"github.com/w1xm/quadpilot/pwm"
	"github.com/w1xm/quadpilot/rotor"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "quadpilot.yaml", "configuration file")
	staticDir  = flag.String("static_dir", "static", "directory containing static files")
	noSensor   = flag.Bool("no_sensor", false, "run without the motion estimator")
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
	log, err := logging.New(cfg.Log.Level, cfg.Log.Output)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Logger
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	transport, err := hardware.OpenTransport(ctx, g, cfg.PWM, logger)
	if err != nil {
		return fmt.Errorf("opening %s transport: %w", cfg.PWM.Transport, err)
	}
	trim := pwm.NewTrim(transport, hardware.TrimOffsets(cfg.Motors))
	defer trim.Close()

	srv := NewServer(log)
	srv.auth = NewAuth(cfg.HTTP.JWTSecret, logger)
	array, err := hardware.NewArray(trim, cfg, logger, rotor.WithStatusCallback(srv.statusCallback))
	if err != nil {
		return err
	}
	srv.array = array
	// Whatever happens below, leave the motors stopped.
	defer func() {
		if err := array.TurnOff(); err != nil {
			logger.Error("disarming on exit", slog.Any("err", err))
		}
	}()

	if !*noSensor {
		sensor, closeSensor, err := hardware.OpenSensor(cfg.Gyro)
		if err != nil {
			return fmt.Errorf("opening %s sensor: %w", cfg.Gyro.Driver, err)
		}
		defer closeSensor()
		if cfg.Gyro.SelfCheck {
			if err := imu.SelfCheck(ctx, sensor, imu.CheckOptions{Logger: logger}); err != nil {
				return err
			}
		}
		srv.orientation, err = imu.ParseOrientation(cfg.Gyro.TiltFront, cfg.Gyro.TiltLeft)
		if err != nil {
			return err
		}
		srv.estimator = motion.New(sensor,
			motion.WithLogger(logger),
			motion.WithInterval(time.Duration(cfg.Gyro.Interval)))
		g.Go(func() error {
			// The rotors stay controllable when the sensor fails.
			if err := srv.estimator.Run(ctx); !errors.Is(err, context.Canceled) {
				logger.Error("motion estimator stopped", slog.Any("err", err))
			}
			return nil
		})
	}

	if cfg.HTTP.Control != "" {
		addr, err := srv.ListenControl(ctx, cfg.HTTP.Control)
		if err != nil {
			return err
		}
		logger.Info("control socket listening", slog.String("addr", addr.String()))
	}

	httpSrv := &http.Server{
		Handler:     srv.Handler(*staticDir),
		Addr:        cfg.HTTP.Listen,
		ReadTimeout: 15 * time.Second,
	}
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return srv.Run(ctx) })

	err = g.Wait()
	logger.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
