package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"

	AuthModeDev  = "dev"
	AuthModeJWT  = "jwt"
	AuthModeOdin = "odin"
)

// Config se carga desde variables de entorno.
type Config struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	AppName   string `env:"APP_NAME" envDefault:"clinical-access-control"`

	// memory | postgres | sqlite
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`
	DatabaseDSN   string `env:"DB_DSN"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"access-control.db"`

	// dev (X-Debug-User-ID) | jwt | odin
	AuthMode    string `env:"AUTH_MODE" envDefault:"dev"`
	JWTSecret   string `env:"JWT_SECRET"`
	JWTIssuer   string `env:"JWT_ISSUER"`
	OdinBaseURL string `env:"ODIN_BASE_URL"`
	OdinAPIKey  string `env:"ODIN_API_KEY"`

	// 0 desactiva el rate limit
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// 0 desactiva el barrido de grants vencidos
	SweepInterval time.Duration `env:"GRANT_SWEEP_INTERVAL" envDefault:"0s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(cfg.AuthMode))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return errors.New("config: DB_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.AuthMode {
	case AuthModeDev:
	case AuthModeJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return errors.New("config: JWT_SECRET is required for jwt auth")
		}
	case AuthModeOdin:
		if strings.TrimSpace(c.OdinBaseURL) == "" || strings.TrimSpace(c.OdinAPIKey) == "" {
			return errors.New("config: ODIN_BASE_URL and ODIN_API_KEY are required for odin auth")
		}
	default:
		return fmt.Errorf("config: unknown AUTH_MODE %q", c.AuthMode)
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("config: rate limit values must be >= 0")
	}
	if c.SweepInterval < 0 {
		return errors.New("config: GRANT_SWEEP_INTERVAL must be >= 0")
	}
	return nil
}

func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
}
