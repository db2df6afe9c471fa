package main

import (
	"context"
	"os"

	adapterlogger "identity-service/internal/adapters/logger"
	"identity-service/internal/config"
	"identity-service/internal/platform/app"
	"identity-service/internal/platform/lambda"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		adapterlogger.New(app.ServiceName, "error").Error(ctx, "configuration error", "error", err)
		os.Exit(1)
	}
	logger := adapterlogger.New(app.ServiceName, cfg.Logger.Level)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to initialize service", "error", err)
		os.Exit(1)
	}
	if _, err := a.Seed(ctx); err != nil {
		logger.Error(ctx, "seeding failed", "error", err)
		_ = a.Close()
		os.Exit(1)
	}
	lambda.Start(a.Echo)
}
