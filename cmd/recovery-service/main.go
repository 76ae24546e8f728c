package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/recoverly-app/recoveryservice/internal/app"
	"github.com/recoverly-app/recoveryservice/internal/config"
	"github.com/recoverly-app/recoveryservice/internal/log"
)

func main() {
	configPath := flag.String("config", "", "path to config file (env-only when empty)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		panic(err)
	}

	if err := log.Init(cfg.Log.Level); err != nil {
		panic(err)
	}
	logger := log.L(context.Background())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start recovery service", zap.Error(err))
	}

	logger.Info("Recovery service started",
		zap.String("app_name", cfg.AppName),
		zap.String("admin_address", cfg.Admin.Address))

	if err := application.Run(ctx); err != nil {
		logger.Error("Recovery service exited with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	application.Shutdown(shutdownCtx)
	os.Exit(0)
}
