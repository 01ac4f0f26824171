// Command modbus_gateway exposes a local Modbus RTU bus over HTTP so a
// modbus PWM controller can be driven from another machine.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"
	"github.com/w1xm/quadpilot/internal/logging"
	"github.com/w1xm/quadpilot/internal/modbus/modbushttp"
)

var (
	addr       = flag.String("addr", "127.0.0.1:8502", "address to listen on")
	password   = flag.String("password", "", "password to require on remote connections")
	serialPort = flag.String("serial", "/dev/ttyUSB0", "serial port of the modbus bus")
	baud       = flag.Int("baud", 19200, "baud rate")
	level      = flag.String("level", "info", "log level")
)

func newRouter(t modbushttp.Transporter, password string, logger *slog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Handle("/api/send", &modbushttp.Handler{
		Transporter: t,
		Password:    password,
		Logger:      logger,
	}).Methods(http.MethodPost)
	return r
}

func main() {
	flag.Parse()
	log, err := logging.New(*level, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	handler := modbus.NewRTUClientHandler(*serialPort)
	handler.BaudRate = *baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = 1
	if err := handler.Connect(); err != nil {
		log.Error("opening serial port", slog.String("port", *serialPort), slog.Any("err", err))
		os.Exit(1)
	}
	defer handler.Close()

	srv := &http.Server{
		Handler:      newRouter(handler, *password, log.Logger),
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Info("listening", slog.String("addr", srv.Addr), slog.String("port", *serialPort))
	if err := srv.ListenAndServe(); err != nil {
		log.Error("serving", slog.Any("err", err))
		os.Exit(1)
	}
}
