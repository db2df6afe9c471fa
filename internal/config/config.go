package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
)

// Config aggregates all runtime settings. It is built once at startup and
// passed by value; nothing reads the environment after Load returns.
type Config struct {
	Environment string
	HTTP        HTTPConfig
	Auth        AuthConfig
	Storage     StorageConfig
	Seed        SeedConfig
	RateLimit   RateLimitConfig
	Logger      LoggerConfig
	XRayEnabled bool
}

type HTTPConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	SecretKey  string
	Algorithm  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

type StorageConfig struct {
	Driver        string
	DatabaseURL   string
	RunMigrations bool
	TableName     string
	AWSRegion     string
}

type SeedConfig struct {
	File          string
	AdminPassword string
}

type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

type LoggerConfig struct {
	Level string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Port:            getString("PORT", "8080"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			SecretKey:  os.Getenv("AUTH_SECRET_KEY"),
			Algorithm:  strings.ToUpper(getString("AUTH_ALGORITHM", "HS256")),
			Issuer:     getString("AUTH_ISSUER", "identity-service"),
			AccessTTL:  getMinutes("ACCESS_TOKEN_EXPIRE_MINUTES", 30),
			RefreshTTL: getMinutes("REFRESH_TOKEN_EXPIRE_MINUTES", 10080),
			BcryptCost: getInt("BCRYPT_COST", 12),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(getString("STORAGE_DRIVER", DriverMemory)),
			DatabaseURL:   os.Getenv("DATABASE_URL"),
			RunMigrations: getBool("RUN_MIGRATIONS", true),
			TableName:     os.Getenv("TABLE_NAME"),
			AWSRegion:     os.Getenv("AWS_REGION"),
		},
		Seed: SeedConfig{
			File:          os.Getenv("SEED_FILE"),
			AdminPassword: os.Getenv("SEED_ADMIN_PASSWORD"),
		},
		RateLimit: RateLimitConfig{
			PerSecond: getFloat("LOGIN_RATE_PER_SECOND", 5),
			Burst:     getInt("LOGIN_RATE_BURST", 10),
		},
		Logger: LoggerConfig{
			Level: getString("LOG_LEVEL", "info"),
		},
		XRayEnabled: getBool("XRAY_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		errs = append(errs, errors.New("AUTH_SECRET_KEY is required"))
	}
	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("AUTH_ALGORITHM %q is not supported", c.Auth.Algorithm))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Auth.AccessTTL > c.Auth.RefreshTTL {
		errs = append(errs, errors.New("access token lifetime exceeds refresh token lifetime"))
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverDynamoDB:
		if c.Storage.TableName == "" {
			errs = append(errs, errors.New("TABLE_NAME is required for the dynamodb driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER %q is not supported", c.Storage.Driver))
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("login rate limit must be positive"))
	}
	return errors.Join(errs...)
}

// Address returns the HTTP listen address.
func (c Config) Address() string {
	return ":" + c.HTTP.Port
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getMinutes(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Minute
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
