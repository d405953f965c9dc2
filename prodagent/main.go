package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"prodagent/prodagent/app"
	"prodagent/prodagent/config"
	"prodagent/prodagent/utils/logging"
)

func main() {
	cfg := config.LoadConfig()
	logging.InitLogger(cfg.LogDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.ErrorLogger.Error("startup failed", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
	err = a.Serve(ctx)
	a.Close()
	logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}
