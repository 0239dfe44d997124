// Package logging builds the zerolog loggers used by the binaries.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agent-racer/realtime/internal/config"
)

const (
	EnvLogLevel   = "RT_LOG_LEVEL"
	EnvLogFormat  = "RT_LOG_FORMAT"
	EnvLogNoColor = "RT_LOG_NOCOLOR"
)

// New returns a logger writing to stderr.
func New(app string, cfg config.LogConfig) zerolog.Logger {
	return NewTo(os.Stderr, app, cfg)
}

// NewTo returns a logger writing to out. Environment variables override cfg.
func NewTo(out io.Writer, app string, cfg config.LogConfig) zerolog.Logger {
	level, format, noColor := applyEnvOverrides(cfg)

	w := out
	if format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", app).Logger()
}

func applyEnvOverrides(cfg config.LogConfig) (zerolog.Level, string, bool) {
	level, ok := parseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		level = lvl
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))); v != "" {
		format = v
	}

	noColor := false
	if v, err := strconv.ParseBool(os.Getenv(EnvLogNoColor)); err == nil {
		noColor = v
	}
	return level, format, noColor
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off", "disabled", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
