package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	adapterlogger "identity-service/internal/adapters/logger"
	"identity-service/internal/config"
	"identity-service/internal/platform/app"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		adapterlogger.New(app.ServiceName, "error").Error(context.Background(), "configuration error", "error", err)
		os.Exit(1)
	}
	logger := adapterlogger.New(app.ServiceName, cfg.Logger.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if _, err := a.Seed(ctx); err != nil {
		logger.Error(ctx, "seeding failed", "error", err)
		_ = a.Close()
		os.Exit(1)
	}

	go func() {
		logger.Info(ctx, "starting http server", "addr", cfg.Address(), "storage", cfg.Storage.Driver)
		if err := a.Echo.Start(cfg.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := a.Echo.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "graceful shutdown failed", "error", err)
	}
}
