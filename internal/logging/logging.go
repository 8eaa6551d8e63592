// Package logging builds the slog loggers used by dictate and dictated.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LevelOff disables logging entirely.
const LevelOff = "off"

// ParseLevel maps a configured level name to a slog level. The second return
// is false when logging is switched off.
func ParseLevel(name string) (slog.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", LevelOff, "none":
		return 0, false, nil
	case "debug":
		return slog.LevelDebug, true, nil
	case "info":
		return slog.LevelInfo, true, nil
	case "warn", "warning":
		return slog.LevelWarn, true, nil
	case "error":
		return slog.LevelError, true, nil
	default:
		return 0, false, fmt.Errorf("unknown log level %q", name)
	}
}

// NewCLI returns a human-readable logger for the CLI. Logs go to w, which is
// stderr in practice; with level off every record is discarded.
func NewCLI(w io.Writer, level string, color bool) (*slog.Logger, error) {
	lvl, on, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if !on {
		return slog.New(slog.DiscardHandler), nil
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
		NoColor:    !color,
	})), nil
}

// NewDaemon returns the JSON logger used by dictated. An empty level means info.
func NewDaemon(w io.Writer, level string) (*slog.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, on, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if !on {
		return slog.New(slog.DiscardHandler), nil
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
