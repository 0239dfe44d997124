package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/agent-racer/realtime/internal/app"
	"github.com/agent-racer/realtime/internal/config"
	"github.com/agent-racer/realtime/internal/logging"
	"github.com/agent-racer/realtime/internal/realtime"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file (.yaml or .toml)")
	wsURL := flag.String("url", "", "Override WebSocket URL of the server")
	token := flag.String("token", "", "Override auth token")
	logFile := flag.String("log-file", "", "Write logs to this file (logs are discarded when empty)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *wsURL != "" {
		cfg.Client.Endpoint = *wsURL
	}
	if *token != "" {
		cfg.Client.Token = *token
	}

	// The alt screen owns the terminal, so logs go to a file or nowhere.
	var out io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	log := logging.NewTo(out, "rtchat", cfg.Log)

	rtCfg := cfg.Realtime()
	if err := rtCfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	conn := realtime.New(rtCfg, realtime.WithLogger(log))

	m := app.New(conn, uuid.NewString()[:8], rtCfg.Endpoint)
	p := tea.NewProgram(m, tea.WithAltScreen())

	_, err = p.Run()
	conn.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
