package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Store drivers
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds everything the broker reads from the environment
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"false"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"connections-layer"`

	StoreDriver        string   `env:"STORE_DRIVER" envDefault:"mongo"`
	MongoURI           string   `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase      string   `env:"MONGODB_DATABASE" envDefault:"connections"`
	PostgresDSN        string   `env:"POSTGRES_DSN"`
	EncryptionKey      string   `env:"ENCRYPTION_KEY"`
	ProvidersFile      string   `env:"PROVIDERS_FILE"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	RedisURL         string        `env:"REDIS_URL"`
	SyncQueue        string        `env:"SYNC_QUEUE" envDefault:"connections"`
	SyncInitialDelay time.Duration `env:"SYNC_INITIAL_DELAY" envDefault:"10s"`

	RefreshTimeout         time.Duration `env:"REFRESH_TIMEOUT" envDefault:"30s"`
	RefreshDistributedLock bool          `env:"REFRESH_DISTRIBUTED_LOCK" envDefault:"false"`
	RefreshLockTTL         time.Duration `env:"REFRESH_LOCK_TTL" envDefault:"45s"`

	ProxyTimeout        time.Duration `env:"PROXY_TIMEOUT" envDefault:"60s"`
	ProxyMaxRetries     int           `env:"PROXY_MAX_RETRIES" envDefault:"0"`
	ProxyRetryBaseDelay time.Duration `env:"PROXY_RETRY_BASE_DELAY" envDefault:"200ms"`
	ProxyRetryMaxDelay  time.Duration `env:"PROXY_RETRY_MAX_DELAY" envDefault:"10s"`
	ProxyRetryStatuses  []int         `env:"PROXY_RETRY_STATUSES" envSeparator:"," envDefault:"429,502,503,504"`

	PostHogAPIKey   string `env:"POSTHOG_API_KEY"`
	PostHogEndpoint string `env:"POSTHOG_ENDPOINT" envDefault:"https://eu.i.posthog.com"`
	OTelEndpoint    string `env:"OTEL_ENDPOINT"`

	DefaultEnvironmentName      string `env:"DEFAULT_ENVIRONMENT_NAME" envDefault:"dev"`
	DefaultEnvironmentSecretKey string `env:"DEFAULT_ENVIRONMENT_SECRET_KEY"`
}

// Load reads an optional .env file and parses the environment into a Config.
// The returned bool reports whether a .env file was found.
func Load(files ...string) (*Config, bool, error) {
	dotenv := godotenv.Load(files...) == nil

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, dotenv, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, dotenv, err
	}
	return &cfg, dotenv, nil
}

// Validate checks cross-field constraints env tags cannot express
func (c *Config) Validate() error {
	var err error

	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			err = multierr.Append(err, errors.New("MONGODB_URI is required for the mongo store"))
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			err = multierr.Append(err, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
	case StoreMemory:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.RefreshDistributedLock && c.RedisURL == "" {
		err = multierr.Append(err, errors.New("REFRESH_DISTRIBUTED_LOCK requires REDIS_URL"))
	}
	if c.RefreshTimeout <= 0 {
		err = multierr.Append(err, errors.New("REFRESH_TIMEOUT must be positive"))
	}
	if c.RefreshDistributedLock && c.RefreshLockTTL <= c.RefreshTimeout {
		err = multierr.Append(err, errors.New("REFRESH_LOCK_TTL must exceed REFRESH_TIMEOUT"))
	}
	if c.ProxyMaxRetries < 0 || c.ProxyMaxRetries > 10 {
		err = multierr.Append(err, errors.New("PROXY_MAX_RETRIES must be between 0 and 10"))
	}

	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
