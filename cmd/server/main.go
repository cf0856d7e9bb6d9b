// Package main implements the entry point for the assignd server, the
// automatic task-assignment engine behind the taskwell backend. It
// computes and commits assignees as tasks, rules and user profiles change.
package main

import (
	"log"
	"log/slog"

	"github.com/taskwell/assignd/internal/config"
	"github.com/taskwell/assignd/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)
	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"redis_configured", cfg.Redis.Addr != "")

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
