package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/w1xm/quadpilot/rotor"
)

// ListenControl serves the line-based control protocol on addr until ctx is
// cancelled.
func (s *Server) ListenControl(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		s.logger.Info("shutdown; closing control socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Warn("failed to accept", slog.Any("err", err))
				}
				continue
			}
			go s.handleControl(conn)
		}
	}()
	return ln.Addr(), nil
}

var controlNames = map[string]string{
	"turn_on":      "I",
	"turn_off":     "O",
	"throttle":     "T",
	"yaw":          "Y",
	"tilt":         "L",
	"hover":        "H",
	"get_throttle": "p",
	"quit":         "q",
}

func (s *Server) handleControl(conn net.Conn) {
	defer conn.Close()
	s.logger.Info("accepted control connection", slog.String("remote", conn.RemoteAddr().String()))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd[2:])
			if len(parts) == 0 {
				continue
			}
			cmd = controlNames[parts[0]]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", parts[0])
		} else {
			// Space after command is optional.
			args = strings.Fields(cmd[1:])
			cmd = cmd[:1]
		}
		s.logger.Debug("control command", slog.String("remote", conn.RemoteAddr().String()), slog.String("cmd", cmd), slog.Any("args", args))
		if cmd == "q" {
			return
		}
		rprt := s.control(conn, cmd, args, extended)
		if extended || rprt != 0 {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("reading control connection", slog.String("remote", conn.RemoteAddr().String()), slog.Any("err", err))
	}
}

// control runs one command and returns its report code. Only queries print
// on success in the short form.
func (s *Server) control(w io.Writer, cmd string, args []string, extended bool) int {
	intArg := func(i int) (int, bool) {
		if len(args) <= i {
			return 0, false
		}
		v, err := strconv.Atoi(args[i])
		return v, err == nil
	}
	var c Command
	switch cmd {
	case "I":
		c.Command = "turn_on"
	case "O":
		c.Command = "turn_off"
	case "H":
		c.Command = "hover"
	case "T", "Y":
		v, ok := intArg(0)
		if !ok || len(args) != 1 {
			return -22
		}
		c.Command = map[string]string{"T": "throttle", "Y": "yaw"}[cmd]
		c.Value = v
	case "L":
		v, ok := intArg(1)
		if !ok || len(args) != 2 {
			return -22
		}
		c = Command{Command: "tilt", Side: args[0], Value: v}
	case "p":
		status := s.array.Status()
		for _, p := range []rotor.Position{rotor.FrontLeft, rotor.FrontRight, rotor.RearLeft, rotor.RearRight} {
			if extended {
				fmt.Fprintf(w, "%s: %d\n", p, status.Throttle[p.String()])
			} else {
				fmt.Fprintf(w, "%d\n", status.Throttle[p.String()])
			}
		}
		if extended {
			fmt.Fprintf(w, "total: %d\narmed: %t\n", status.Total, status.Armed)
		} else {
			fmt.Fprintf(w, "%d\n", status.Total)
		}
		return 0
	default:
		return -11
	}
	if err := s.execute(c); err != nil {
		if commandStatus(err) == http.StatusBadRequest {
			return -22
		}
		return -1
	}
	return 0
}
