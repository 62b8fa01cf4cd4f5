package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-beacon/backend/internal/action"
	"github.com/agent-beacon/backend/internal/api"
	"github.com/agent-beacon/backend/internal/config"
	"github.com/agent-beacon/backend/internal/ingest"
	"github.com/agent-beacon/backend/internal/reaper"
	"github.com/agent-beacon/backend/internal/session"
	"github.com/agent-beacon/backend/internal/store"
	"github.com/agent-beacon/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 0, "override server port")
	dbPath := flag.String("db", "", "override database path")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sessions, err := session.NewStore(store.NewSessionStore(db), logger)
	if err != nil {
		logger.Error("failed to load sessions", "error", err)
		os.Exit(1)
	}
	logger.Info("session store ready", "sessions", sessions.Count())

	broadcaster := ws.NewBroadcaster(sessions, cfg.Dashboard.BroadcastThrottle, cfg.Dashboard.SnapshotInterval, logger)
	ingestor := ingest.New(sessions, logger)
	rp := reaper.New(sessions, cfg.Reaper, logger)
	dispatcher := action.NewDispatcher(sessions, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rp.Run(ctx)

	srv := api.NewServer(sessions, ingestor, rp, dispatcher, broadcaster, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	broadcaster.Stop()
	logger.Info("goodbye")
}
