// Package config loads and validates server configuration from the
// environment. A local .env file is honoured when present so that
// development setups do not need to export variables by hand.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable for the relay server.
type Config struct {
	ListenAddr   string        `envconfig:"LISTEN_ADDR" default:":8080"`
	ServerName   string        `envconfig:"SERVER_NAME"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"60s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	// MaxConnections is the hard cap on simultaneous WebSocket sessions.
	MaxConnections int `envconfig:"MAX_CONNECTIONS" default:"100000" validate:"gt=0"`

	// JWTSecret signs and verifies session tokens (HS256).
	JWTSecret string `envconfig:"JWT_SECRET" validate:"required,min=32"`

	// EncryptionKey is the process-wide AEAD key, hex-encoded 32 bytes.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" validate:"required,hexadecimal,len=64"`

	PostgresURL string `envconfig:"POSTGRES_URL" validate:"required,url"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379" validate:"hostname_port"`

	// NATSURL enables the cross-instance delivery bridge when set.
	NATSURL string `envconfig:"NATS_URL"`
}

var validate = validator.New()

// Load reads configuration from the environment (and an optional .env file)
// and validates it. Validation failures are fatal misconfigurations.
func Load() (Config, error) {
	// Missing .env is fine; real deployments use the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Key decodes the hex-encoded AEAD key. Length is already enforced by
// validation, so this only fails on non-hex input slipping past defaults.
func (c Config) Key() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("config: decode encryption key: %w", err)
	}
	return key, nil
}
