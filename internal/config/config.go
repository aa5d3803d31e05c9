package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	// Bank-data aggregator (link tokens, token exchange, account metadata)
	AggregatorBaseURL  string `env:"AGGREGATOR_BASE_URL,required"`
	AggregatorClientID string `env:"AGGREGATOR_CLIENT_ID,required"`
	AggregatorSecret   string `env:"AGGREGATOR_SECRET,required"`

	// Payment rail (funding sources)
	RailBaseURL   string `env:"RAIL_BASE_URL,required"`
	RailToken     string `env:"RAIL_TOKEN,required"`
	RailProcessor string `env:"RAIL_PROCESSOR" envDefault:"dwolla"`

	// Backend persistence / session collaborator
	BackendBaseURL string `env:"BACKEND_BASE_URL,required"`

	// 64 hex chars; drives the shareable-id codec for the whole process
	ShareableIDKey string `env:"SHAREABLE_ID_KEY,required"`

	GatewayTimeoutSeconds int    `env:"GATEWAY_TIMEOUT_SECONDS" envDefault:"15"`
	LinkRateLimitPerMin   int    `env:"LINK_RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if err := validateCodecKey(c.ShareableIDKey); err != nil {
		return err
	}

	if isProduction {
		if err := validateSecret("AGGREGATOR_SECRET", c.AggregatorSecret); err != nil {
			return err
		}
		if err := validateSecret("RAIL_TOKEN", c.RailToken); err != nil {
			return err
		}
		if strings.HasPrefix(c.BackendBaseURL, "http://") {
			log.Warn().Msg("BACKEND_BASE_URL uses http:// in production: bank records travel in cleartext")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateCodecKey(value string) error {
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("SHAREABLE_ID_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
	}
	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 16 {
		return fmt.Errorf("%s must be at least 16 characters in production", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
