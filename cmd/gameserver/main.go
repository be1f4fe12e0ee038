// Package main provides the game server binary: authoritative sessions behind
// a WebSocket endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

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
	monstersFile := flag.String("monsters", "", "path to monster catalog YAML; overrides session.monsters_file")
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

	logger.Info("starting game server",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.Int("tick_rate_hz", cfg.Session.TickRateHz),
		zap.Int("max_players", cfg.Session.MaxPlayers),
	)

	catalogPath := cfg.Session.MonstersFile
	if *monstersFile != "" {
		catalogPath = *monstersFile
	}
	var catalog *monster.Catalog
	if catalogPath != "" {
		catalogStart := time.Now()
		catalog, err = monster.LoadCatalog(catalogPath)
		if err != nil {
			logger.Fatal("loading monster catalog", zap.String("path", catalogPath), zap.Error(err))
		}
		logger.Info("monster catalog loaded",
			zap.Int("types", len(catalog.Definitions)),
			zap.Int("spawns", len(catalog.Spawns)),
			zap.Duration("elapsed", time.Since(catalogStart)),
		)
	}

	ctx := context.Background()
	registry := gameserver.NewRegistry(ctx, cfg.Session.RoomNames(), gameserver.NewSessionFactory(cfg.Session, catalog, logger), logger)
	if _, err := registry.GetOrCreate(cfg.Session.DefaultRoom); err != nil {
		logger.Fatal("creating default session", zap.Error(err))
	}

	acceptor := ws.NewAcceptor(cfg.HTTP, cfg.Session, registry, logger)

	// Sessions stop after the acceptor so connections drain first.
	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("sessions", registry)
	lifecycle.Add("websocket", acceptor)

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("default_room", cfg.Session.DefaultRoom),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
