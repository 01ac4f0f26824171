// Package logging builds the process logger from the log section of the
// configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelCritical is above slog.LevelError and reserved for conditions that
// make flying unsafe.
const LevelCritical = slog.LevelError + 4

// levelNotSet logs everything.
const levelNotSet = slog.LevelDebug - 4

// Levels are the accepted level names, most severe first.
var Levels = []string{"critical", "error", "warning", "info", "debug", "notset"}

func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "critical":
		return LevelCritical, nil
	case "error":
		return slog.LevelError, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "notset":
		return levelNotSet, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// LevelName is the inverse of ParseLevel for the named levels.
func LevelName(l slog.Level) string {
	switch {
	case l >= LevelCritical:
		return "critical"
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "info"
	case l >= slog.LevelDebug:
		return "debug"
	}
	return "notset"
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if l, ok := a.Value.Any().(slog.Level); ok && l >= LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	out   io.Writer
}

// New logs at level to output, a file rotated by size, or to stderr when
// output is empty.
func New(level, output string) (*Logger, error) {
	var out io.Writer = os.Stderr
	if output != "" {
		out = &lumberjack.Logger{
			Filename:   output,
			MaxSize:    10,
			MaxBackups: 3,
		}
	}
	return NewWriter(level, out)
}

// NewWriter logs at level to out.
func NewWriter(level string, out io.Writer) (*Logger, error) {
	l := &Logger{level: new(slog.LevelVar), out: out}
	if err := l.SetLevel(level); err != nil {
		return nil, err
	}
	l.Logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:       l.level,
		ReplaceAttr: replaceLevel,
	}))
	return l, nil
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	l.level.Set(lvl)
	return nil
}

func (l *Logger) Level() string {
	return LevelName(l.level.Level())
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if c, ok := l.out.(io.Closer); ok && l.out != os.Stderr {
		return c.Close()
	}
	return nil
}
