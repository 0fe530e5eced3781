package main

import (
	"log/slog"
	"os"

	"github.com/Fedosin/glare/internal/config"
	"github.com/Fedosin/glare/internal/infra/db"
	httpinfra "github.com/Fedosin/glare/internal/infra/http"
	"github.com/Fedosin/glare/internal/usecase"
)

func main() {
	cfg := config.FromEnv()
	logger := newLogger(cfg.LogLevel)

	var store usecase.Store
	pg, err := db.NewStore(cfg.PostgresDSN)
	if err != nil {
		logger.Error("init store", "error", err)
		os.Exit(1)
	}
	if pg != nil {
		store = pg
	}

	srv, err := httpinfra.NewServer(cfg, store, logger)
	if err != nil {
		logger.Error("init server", "error", err)
		os.Exit(1)
	}
	logger.Info("catalog listening", "addr", cfg.HTTPAddr)
	if err := srv.Run(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
