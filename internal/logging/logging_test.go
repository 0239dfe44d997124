package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/agent-racer/realtime/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"verbose", zerolog.InfoLevel, false},
	}

	for _, tt := range tests {
		got, ok := parseLevel(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseLevel(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNewToJSON(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFormat, "")

	var buf bytes.Buffer
	log := NewTo(&buf, "rtserver", config.LogConfig{Level: "warn", Format: "json"})
	log.Info().Msg("hidden")
	log.Warn().Str("event", "greet").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["app"] != "rtserver" || entry["event"] != "greet" || entry["message"] != "shown" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewToEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "json")

	var buf bytes.Buffer
	log := NewTo(&buf, "rtchat", config.LogConfig{Level: "error", Format: "console"})
	log.Debug().Msg("debug line")

	if !strings.Contains(buf.String(), `"message":"debug line"`) {
		t.Errorf("expected env to force debug JSON output, got %q", buf.String())
	}
}
