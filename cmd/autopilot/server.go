package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/w1xm/quadpilot/imu"
	"github.com/w1xm/quadpilot/internal/logging"
	"github.com/w1xm/quadpilot/motion"
	"github.com/w1xm/quadpilot/motor"
	"github.com/w1xm/quadpilot/rotor"
)

const statusInterval = 250 * time.Millisecond

var errUnknownCommand = errors.New("unknown command")

// FrameTilt is the accumulated tilt about the frame's own axes.
type FrameTilt struct {
	Front float64 `json:"front"`
	Left  float64 `json:"left"`
}

type Status struct {
	Rotor     rotor.Status     `json:"rotor"`
	Motion    *motion.Snapshot `json:"motion,omitempty"`
	FrameTilt *FrameTilt       `json:"frame_tilt,omitempty"`
	LogLevel  string           `json:"log_level"`
}

type Command struct {
	Command string `json:"command"`
	Value   int    `json:"value"`
	Side    string `json:"side,omitempty"`
}

type Server struct {
	logger      *slog.Logger
	log         *logging.Logger
	array       *rotor.Array
	estimator   *motion.Estimator
	orientation imu.Orientation
	auth        *Auth

	// mu serializes commands from every surface.
	mu sync.Mutex

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
	version    uint64
}

func NewServer(log *logging.Logger) *Server {
	s := &Server{
		logger: log.Logger,
		log:    log,
	}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) Handler(staticDir string) http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	api.Handle("/command", s.auth.Require(http.HandlerFunc(s.CommandHandler))).Methods(http.MethodPost)
	api.Handle("/loglevel", s.auth.Require(http.HandlerFunc(s.LogLevelHandler))).Methods(http.MethodPut)
	r.Handle("/ws", s.auth.Require(http.HandlerFunc(s.StatusSocketHandler)))
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	return r
}

// execute runs cmd against the rotor array.
func (s *Server) execute(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("command", slog.String("command", cmd.Command), slog.Int("value", cmd.Value), slog.String("side", cmd.Side))
	switch cmd.Command {
	case "turn_on":
		return s.array.TurnOn()
	case "turn_off":
		return s.array.TurnOff()
	case "throttle":
		return s.array.OverallThrottle(cmd.Value)
	case "yaw":
		return s.array.Yaw(cmd.Value)
	case "tilt":
		side, err := rotor.ParseSide(cmd.Side)
		if err != nil {
			return err
		}
		return s.array.Tilt(side, cmd.Value)
	case "hover":
		return s.array.Hover()
	}
	return fmt.Errorf("%w %q", errUnknownCommand, cmd.Command)
}

func commandStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, rotor.ErrNotArmed):
		return http.StatusConflict
	case errors.Is(err, errUnknownCommand),
		errors.Is(err, rotor.ErrSide),
		errors.Is(err, rotor.ErrYawRange),
		errors.Is(err, rotor.ErrTiltRange),
		errors.Is(err, motor.ErrThrottleRange):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) snapshot() Status {
	status := Status{
		Rotor:    s.array.Status(),
		LogLevel: s.log.Level(),
	}
	if s.estimator != nil {
		snap := s.estimator.Snapshot()
		front, left := s.orientation.Tilt(snap.Tilt)
		status.Motion = &snap
		status.FrameTilt = &FrameTilt{Front: front, Left: left}
	}
	return status
}

// publish stores a fresh status and wakes the websocket writers.
func (s *Server) publish() {
	status := s.snapshot()
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.version++
	s.statusCond.Broadcast()
}

func (s *Server) statusCallback(rotor.Status) {
	s.publish()
}

// Run refreshes the motion part of the status until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	t := time.NewTicker(statusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.statusMu.Lock()
			s.statusCond.Broadcast()
			s.statusMu.Unlock()
			return ctx.Err()
		case <-t.C:
		}
		s.publish()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("writing response", slog.Any("err", err))
	}
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

type commandResponse struct {
	Error  string       `json:"error,omitempty"`
	Status rotor.Status `json:"status"`
}

func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := s.execute(cmd)
	resp := commandResponse{Status: s.array.Status()}
	if err != nil {
		s.logger.Warn("command failed", slog.String("command", cmd.Command), slog.Any("err", err))
		resp.Error = err.Error()
	}
	writeJSON(w, commandStatus(err), resp)
}

type logLevel struct {
	Level string `json:"level"`
}

func (s *Server) LogLevelHandler(w http.ResponseWriter, r *http.Request) {
	var req logLevel
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.log.SetLevel(req.Level); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("log level changed", slog.String("level", s.log.Level()))
	writeJSON(w, http.StatusOK, logLevel{Level: s.log.Level()})
}

type socketReply struct {
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", slog.Any("err", err))
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Read and process incoming commands
	go func() {
		defer func() {
			cancel()
			s.statusMu.Lock()
			s.statusCond.Broadcast()
			s.statusMu.Unlock()
		}()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			reply := socketReply{Command: msg.Command}
			if err := s.execute(msg); err != nil {
				reply.Error = err.Error()
			}
			if err := send(reply); err != nil {
				return
			}
		}
	}()

	s.statusMu.RLock()
	status, seen := s.status, s.version
	s.statusMu.RUnlock()
	if seen == 0 {
		status = s.snapshot()
	}
	if err := send(status); err != nil {
		return
	}

	for {
		s.statusMu.RLock()
		for s.version == seen && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		status, seen = s.status, s.version
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if err := send(status); err != nil {
			s.logger.Debug("websocket closed", slog.Any("err", err))
			return
		}
	}
}
