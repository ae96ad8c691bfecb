package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"energymon/backend/libs/logging"
	"energymon/backend/services/energy-service/internal/app"
	"energymon/backend/services/energy-service/internal/config"
)

func main() {
	initDB := flag.Bool("init-db", false, "create the readings table and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger("energy-service")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *initDB {
		handle, _, err := app.OpenStore(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to init database", zap.Error(err))
		}
		handle.Close()
		logger.Info("database initialized", zap.String("driver", cfg.StorageDriver()))
		return
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init energy service", zap.Error(err))
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("energy service stopped with error", zap.Error(err))
	}
}
