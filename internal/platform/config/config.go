package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// AuthAPIKey is the static shared secret exchanged for tokens.
	// AuthSigningSecret signs issued tokens and must not equal the API key;
	// reusing the bearer credential as the signing key collapses the
	// authentication and integrity-protection roles into one secret.
	AuthAPIKey        string `env:"AUTH_API_KEY"`
	AuthSigningSecret string `env:"AUTH_SIGNING_SECRET"`

	TokenExpiry        time.Duration `env:"TOKEN_EXPIRY" default:"1h"`
	TokenRefreshWindow time.Duration `env:"TOKEN_REFRESH_WINDOW" default:"30m"`
	TokenRateMax       int           `env:"TOKEN_RATE_MAX" default:"10"`
	TokenRateWindow    time.Duration `env:"TOKEN_RATE_WINDOW" default:"1h"`

	GeneralRateMax    int           `env:"GENERAL_RATE_MAX" default:"120"`
	GeneralRateWindow time.Duration `env:"GENERAL_RATE_WINDOW" default:"1m"`
	AuthRateMax       int           `env:"AUTH_RATE_MAX" default:"30"`
	AuthRateWindow    time.Duration `env:"AUTH_RATE_WINDOW" default:"1m"`
	HeavyRateMax      int           `env:"HEAVY_RATE_MAX" default:"10"`
	HeavyRateWindow   time.Duration `env:"HEAVY_RATE_WINDOW" default:"1m"`

	HeartbeatInterval       time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	SubscriptionGracePeriod time.Duration `env:"SUBSCRIPTION_GRACE_PERIOD" default:"30s"`
	SweepInterval           time.Duration `env:"SWEEP_INTERVAL" default:"1m"`
	StatsInterval           time.Duration `env:"STATS_INTERVAL" default:"5s"`

	MaxReconnectAttempts   int           `env:"MAX_RECONNECT_ATTEMPTS" default:"5"`
	ReconnectBaseDelay     time.Duration `env:"RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectGrowthFactor  float64       `env:"RECONNECT_GROWTH_FACTOR" default:"2.0"`
	MaxConnectionsPerHost  int           `env:"MAX_CONNECTIONS_PER_HOST" default:"50"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"AUTH_API_KEY":        cfg.AuthAPIKey,
		"AUTH_SIGNING_SECRET": cfg.AuthSigningSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.AuthSigningSecret == cfg.AuthAPIKey {
		return errors.New("AUTH_SIGNING_SECRET must differ from AUTH_API_KEY")
	}
	if len(cfg.AuthSigningSecret) < 32 {
		return fmt.Errorf("AUTH_SIGNING_SECRET must be at least 32 characters, got %d", len(cfg.AuthSigningSecret))
	}

	if cfg.TokenExpiry <= 0 {
		return errors.New("TOKEN_EXPIRY must be positive")
	}
	if cfg.TokenRefreshWindow >= cfg.TokenExpiry {
		return errors.New("TOKEN_REFRESH_WINDOW must be shorter than TOKEN_EXPIRY")
	}

	if cfg.MaxReconnectAttempts < 1 {
		return errors.New("MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if cfg.ReconnectGrowthFactor < 1 {
		return errors.New("RECONNECT_GROWTH_FACTOR must be >= 1")
	}

	if cfg.MaxConnectionsPerHost < 1 {
		return errors.New("MAX_CONNECTIONS_PER_HOST must be at least 1")
	}

	return nil
}
