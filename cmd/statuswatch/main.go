// Command statuswatch follows the autopilot status stream and logs every
// update as flat key=value pairs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/w1xm/quadpilot/internal/logging"
)

var (
	url   = flag.String("url", "ws://localhost:8080/ws", "autopilot status socket")
	token = flag.String("token", os.Getenv("QUADPILOT_TOKEN"), "bearer token for the autopilot")
	level = flag.String("level", "info", "log level")
)

func main() {
	flag.Parse()
	log, err := logging.New(*level, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w := &watcher{url: *url, token: *token, logger: log.Logger}
	for ctx.Err() == nil {
		if err := w.watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("status stream", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(1 * time.Second):
		}
	}
}

// statusAttrs turns a decoded status document into log attributes keyed by
// dotted path, in key order. Nulls, such as the motion block of a service
// running without a sensor, are left out.
func statusAttrs(path string, v any) []any {
	switch v := v.(type) {
	case nil:
		return nil
	case map[string]any:
		var out []any
		for _, k := range slices.Sorted(maps.Keys(v)) {
			out = append(out, statusAttrs(joinPath(path, k), v[k])...)
		}
		return out
	case []any:
		var out []any
		for i, e := range v {
			out = append(out, statusAttrs(joinPath(path, strconv.Itoa(i)), e)...)
		}
		return out
	}
	return []any{slog.Any(path, v)}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

type watcher struct {
	url    string
	token  string
	logger *slog.Logger

	updates int
	since   time.Time
}

// watch logs status updates until the connection drops or ctx is cancelled.
func (w *watcher) watch(ctx context.Context) error {
	header := make(http.Header)
	if w.token != "" {
		header.Set("Authorization", "Bearer "+w.token)
	}
	var dialer websocket.Dialer
	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	w.since = time.Now()
	w.logger.Info("connected", slog.String("url", w.url))
	for {
		var status any
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		w.updates++
		w.logger.Info("status", statusAttrs("", status)...)
		if w.updates%100 == 0 {
			w.logger.Info("stream statistics",
				slog.String("updates", humanize.Comma(int64(w.updates))),
				slog.String("connected", humanize.Time(w.since)))
		}
	}
}
