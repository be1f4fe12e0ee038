// Package main provides the all-in-one development server: a game server plus
// simulated players connected to it over loopback.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/worldsync/internal/client"
	"github.com/cory-johannsen/worldsync/internal/client/sim"
	"github.com/cory-johannsen/worldsync/internal/config"
	"github.com/cory-johannsen/worldsync/internal/frontend/ws"
	"github.com/cory-johannsen/worldsync/internal/game/monster"
	"github.com/cory-johannsen/worldsync/internal/gameserver"
	"github.com/cory-johannsen/worldsync/internal/observability"
	"github.com/cory-johannsen/worldsync/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	monstersFile := flag.String("monsters", "content/monsters.yaml", "path to monster catalog YAML")
	bots := flag.Int("bots", 3, "number of simulated players to connect")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting development server",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.Int("bots", *bots),
	)

	var catalog *monster.Catalog
	if *monstersFile != "" {
		catalog, err = monster.LoadCatalog(*monstersFile)
		if err != nil {
			logger.Fatal("loading monster catalog", zap.String("path", *monstersFile), zap.Error(err))
		}
		logger.Info("monster catalog loaded",
			zap.Int("types", len(catalog.Definitions)),
			zap.Int("spawns", len(catalog.Spawns)),
		)
	}

	ctx := context.Background()
	registry := gameserver.NewRegistry(ctx, cfg.Session.RoomNames(), gameserver.NewSessionFactory(cfg.Session, catalog, logger), logger)
	if _, err := registry.GetOrCreate(cfg.Session.DefaultRoom); err != nil {
		logger.Fatal("creating default session", zap.Error(err))
	}
	acceptor := ws.NewAcceptor(cfg.HTTP, cfg.Session, registry, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("sessions", registry)
	lifecycle.Add("websocket", acceptor)

	// Bots may dial before the listener is up; the reconnect loop covers that.
	// A bot that gives up is logged and the server keeps running.
	cfg.Client.ServerURL = fmt.Sprintf("ws://127.0.0.1:%d/ws", cfg.HTTP.Port)
	dialer := client.NewWSDialer(cfg.HTTP)
	for i := 0; i < *bots; i++ {
		name := fmt.Sprintf("bot-%d", i+1)
		b := sim.NewBot(name, cfg.Session.DefaultMap, cfg, dialer, logger.Named("sim").With(zap.String("bot", name)), uint64(i+1))
		lifecycle.AddOptional(name, b.Service())
	}

	logger.Info("development server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
