package main

import (
	"context"
	"flag"
	"os"

	adapterlogger "identity-service/internal/adapters/logger"
	"identity-service/internal/config"
	"identity-service/internal/infrastructure/security"
	"identity-service/internal/platform/app"
)

func main() {
	file := flag.String("file", "", "seed file (defaults to SEED_FILE)")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		adapterlogger.New(app.ServiceName, "error").Error(ctx, "configuration error", "error", err)
		os.Exit(1)
	}
	logger := adapterlogger.New(app.ServiceName+"-seed", cfg.Logger.Level)
	if *file != "" {
		cfg.Seed.File = *file
	}
	if cfg.Seed.File == "" {
		logger.Error(ctx, "no seed file given; pass -file or set SEED_FILE")
		os.Exit(2)
	}
	if cfg.Storage.Driver == config.DriverMemory {
		logger.Warn(ctx, "memory storage does not outlive this process; seeding is a dry run")
	}

	repo, closeRepo, err := app.OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error(ctx, "failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	res, err := app.Seed(ctx, cfg.Seed, repo, security.NewBcryptVerifier(cfg.Auth.BcryptCost), logger)
	if err != nil {
		logger.Error(ctx, "seeding failed", "error", err)
		_ = closeRepo()
		os.Exit(1)
	}
	if res.Skipped {
		logger.Info(ctx, "users already present; nothing seeded")
	}
}
