package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT"      envDefault:"3001"  validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL"             envDefault:"redis://localhost:6379/0" validate:"required"`

	JWTSecret string        `env:"JWT_SECRET,required" validate:"required,min=32"`
	TokenTTL  time.Duration `env:"TOKEN_TTL"           envDefault:"24h" validate:"min=1m"`
	NonceTTL  time.Duration `env:"NONCE_TTL"           envDefault:"5m"  validate:"min=10s"`

	RPCURL              string        `env:"RPC_URL,required"      validate:"required,url"`
	ChainID             int64         `env:"CHAIN_ID"              envDefault:"1" validate:"min=1"`
	USDCContractAddress string        `env:"USDC_CONTRACT_ADDRESS" envDefault:"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48" validate:"required,eth_addr"`
	SettlementTimeout   time.Duration `env:"SETTLEMENT_TIMEOUT"    envDefault:"3m" validate:"min=1s"`

	KeystoreDir        string `env:"KEYSTORE_DIR"`
	KeystorePassphrase string `env:"KEYSTORE_PASSPHRASE" validate:"required_with=KeystoreDir"`
	AllowRequestKeys   bool   `env:"ALLOW_REQUEST_KEYS"  envDefault:"false"`

	EventsEnabled  bool `env:"EVENTS_ENABLED"    envDefault:"true"`
	AuthRatePerMin int  `env:"AUTH_RATE_PER_MIN" envDefault:"30" validate:"min=1,max=10000"`

	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," validate:"dive,ip|cidr"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel maps LOG_LEVEL to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
