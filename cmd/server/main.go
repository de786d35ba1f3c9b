package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/janisto/greeting-service/internal/config"
	applog "github.com/janisto/greeting-service/internal/platform/logging"
	"github.com/janisto/greeting-service/internal/server"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		applog.LogError(context.Background(), "server failed", err)
	}
	if syncErr := applog.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync error: %v\n", syncErr)
	}
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := applog.Err(); err != nil {
		applog.LogError(ctx, "logger init error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logStartup(ctx, cfg)
	return server.New(cfg, Version).Run(ctx)
}

// logStartup confirms which configuration was picked up. The values have no effect on request handling.
func logStartup(ctx context.Context, cfg config.Config) {
	applog.LogInfo(ctx, "configuration loaded",
		zap.String("version", Version),
		zap.String("test", cfg.Test),
		zap.String("ai", cfg.AI),
		zap.Int("port", cfg.Port),
	)
}
