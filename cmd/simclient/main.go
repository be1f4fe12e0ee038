// Package main provides a headless client that connects simulated players to
// a game server for smoke and load testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/client"
	"github.com/cory-johannsen/worldsync/internal/client/sim"
	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/observability"
	"github.com/cory-johannsen/worldsync/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	serverURL := flag.String("url", "", "WebSocket URL of the game server; overrides client.server_url")
	bots := flag.Int("bots", 1, "number of simulated players")
	prefix := flag.String("name", "bot", "player name prefix")
	mapID := flag.String("map", "", "map to join; defaults to session.default_map")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *serverURL != "" {
		cfg.Client.ServerURL = *serverURL
	}
	if *mapID == "" {
		*mapID = cfg.Session.DefaultMap
	}
	if *bots < 1 {
		log.Fatalf("-bots must be at least 1, got %d", *bots)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting simulated clients",
		zap.String("url", cfg.Client.ServerURL),
		zap.Int("bots", *bots),
		zap.String("map", *mapID),
	)

	dialer := client.NewWSDialer(cfg.HTTP)
	seed := uint64(time.Now().UnixNano())

	// A bot's Stop sends leave, which is bounded by the write timeout.
	lifecycle := server.NewLifecycle(logger,
		server.WithSignals(os.Interrupt, syscall.SIGTERM),
		server.WithStopTimeout(cfg.HTTP.WriteTimeout+time.Second),
	)
	for i := 0; i < *bots; i++ {
		name := fmt.Sprintf("%s-%d", *prefix, i+1)
		b := sim.NewBot(name, *mapID, cfg, dialer, logger.With(zap.String("bot", name)), seed+uint64(i))
		lifecycle.Add(name, b.Service())
	}

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("simulation error", zap.Error(err))
	}
}
