package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent-racer/realtime/internal/config"
	"github.com/agent-racer/realtime/internal/devserver"
	"github.com/agent-racer/realtime/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file (.yaml or .toml)")
	port := flag.Int("port", 0, "Override server port")
	host := flag.String("host", "", "Override listen host")
	token := flag.String("token", "", "Override auth token")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	log := logging.New("rtserver", config.LogConfig{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	log = logging.New("rtserver", cfg.Log)

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *token != "" {
		cfg.Server.Token = *token
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	broadcaster := devserver.NewBroadcaster(cfg.Server.MaxConnections, log)
	server := devserver.NewServer(cfg.Server, broadcaster, devserver.EchoReply, log)
	go devserver.NewMetricsPublisher(broadcaster, devserver.HostSampler, cfg.Server.MetricsInterval, log).Run(ctx)

	if err := server.ListenAndServe(ctx); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("shut down")
}
