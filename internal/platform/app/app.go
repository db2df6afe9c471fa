// Package app wires configuration, storage and services into an echo router.
// The HTTP server, the Lambda entrypoint and the seed command share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	adaptermiddleware "identity-service/internal/adapters/http/middleware"
	"identity-service/internal/application"
	"identity-service/internal/config"
	"identity-service/internal/infrastructure/auth"
	"identity-service/internal/infrastructure/dynamodb"
	"identity-service/internal/infrastructure/memory"
	"identity-service/internal/infrastructure/postgres"
	"identity-service/internal/infrastructure/security"
	httpiface "identity-service/internal/interfaces/http"
	"identity-service/internal/ports"
)

const ServiceName = "identity-service"

type App struct {
	Echo     *echo.Echo
	Repo     ports.IdentityRepository
	Verifier ports.CredentialVerifier
	Registry *prometheus.Registry

	cfg    config.Config
	logger ports.Logger
	close  func() error
}

// OpenStorage returns the repository selected by cfg.Storage.Driver and a
// function releasing its resources.
func OpenStorage(ctx context.Context, cfg config.StorageConfig, logger ports.Logger) (ports.IdentityRepository, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Warn(ctx, "using in-memory storage; data is lost on restart")
		return memory.NewStore(), noop, nil
	case config.DriverPostgres:
		if cfg.RunMigrations {
			if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info(ctx, "database migrations applied")
		}
		store, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return store, store.Close, nil
	case config.DriverDynamoDB:
		client, err := dynamodb.NewClient(ctx, cfg.AWSRegion, cfg.TableName)
		if err != nil {
			return nil, nil, fmt.Errorf("dynamodb client: %w", err)
		}
		return client, noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func New(ctx context.Context, cfg config.Config, logger ports.Logger) (*App, error) {
	repo, closeRepo, err := OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a, err := newWithRepo(cfg, repo, logger)
	if err != nil {
		return nil, errors.Join(err, closeRepo())
	}
	a.close = closeRepo
	return a, nil
}

func newWithRepo(cfg config.Config, repo ports.IdentityRepository, logger ports.Logger) (*App, error) {
	codec, err := auth.NewJWTCodec(auth.CodecConfig{
		Secret:    []byte(cfg.Auth.SecretKey),
		Algorithm: cfg.Auth.Algorithm,
		Issuer:    cfg.Auth.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}
	verifier := security.NewBcryptVerifier(cfg.Auth.BcryptCost)

	authSvc := application.NewAuthService(repo.Users(), verifier, codec, application.TokenTTL{
		Access:  cfg.Auth.AccessTTL,
		Refresh: cfg.Auth.RefreshTTL,
	}, logger)
	userSvc := application.NewUserService(repo.Users(), repo.Roles(), verifier, logger)
	roleSvc := application.NewRoleService(repo.Roles())
	permSvc := application.NewPermissionService(repo.Permissions())
	guard := application.NewGuard(repo.Users(), codec, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := adaptermiddleware.NewMetrics(registry)

	mw := httpiface.Middleware{
		Metrics:       metrics.Middleware(),
		RequestLogger: adaptermiddleware.RequestLogger(logger),
		LoginLimiter:  adaptermiddleware.LoginRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
	}
	if cfg.XRayEnabled {
		if err := xray.Configure(xray.Config{LogLevel: "error"}); err != nil {
			return nil, fmt.Errorf("xray: %w", err)
		}
		mw.XRay = adaptermiddleware.XRayMiddleware(ServiceName)
	}

	e := httpiface.NewRouter(httpiface.Handlers{
		Auth:        httpiface.NewAuthHandler(authSvc, userSvc, metrics),
		Roles:       httpiface.NewRolesHandler(roleSvc),
		Permissions: httpiface.NewPermissionsHandler(permSvc),
		Users:       httpiface.NewUsersHandler(userSvc),
		Metrics:     adaptermiddleware.MetricsHandler(registry),
	}, guard, mw, logger)

	return &App{
		Echo:     e,
		Repo:     repo,
		Verifier: verifier,
		Registry: registry,
		cfg:      cfg,
		logger:   logger,
		close:    func() error { return nil },
	}, nil
}

// Seed applies the seed file named in the configuration, if any.
func (a *App) Seed(ctx context.Context) (application.SeedResult, error) {
	return Seed(ctx, a.cfg.Seed, a.Repo, a.Verifier, a.logger)
}

func Seed(ctx context.Context, cfg config.SeedConfig, repo ports.IdentityRepository, verifier ports.CredentialVerifier, logger ports.Logger) (application.SeedResult, error) {
	if cfg.File == "" {
		return application.SeedResult{Skipped: true}, nil
	}
	seed, err := application.LoadSeed(cfg.File)
	if err != nil {
		return application.SeedResult{}, err
	}
	var opts []application.SeederOption
	if cfg.AdminPassword != "" {
		opts = append(opts, application.WithAdminPassword(cfg.AdminPassword))
	}
	res, err := application.NewSeeder(repo, verifier, logger, opts...).Apply(ctx, seed)
	if err != nil {
		return res, fmt.Errorf("seed %s: %w", cfg.File, err)
	}
	return res, nil
}

func (a *App) Close() error {
	return a.close()
}
