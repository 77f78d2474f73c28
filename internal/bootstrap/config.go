// Package bootstrap wires configuration, storage and the HTTP server together.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shipnorth/portal-auth/config"
)

var logLevel = new(slog.LevelVar)

// InitLogger initializes the structured logger at info level.
// The level can be raised or lowered later with SetLogLevel.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// SetLogLevel changes the level of the logger returned by InitLogger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateConfig rejects combinations the service cannot start with.
func ValidateConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if !cfg.IsDev && cfg.Auth.SessionStore == config.SessionStoreMemory {
		return errors.New("memory session store is only allowed in dev mode")
	}
	if !cfg.IsDev && cfg.Auth.UserStore == config.UserStoreMemory {
		return errors.New("memory user store is only allowed in dev mode")
	}
	if cfg.Auth.OIDC.Enabled && cfg.Auth.OIDC.GroupRoles == "" {
		return errors.New("AUTH_OIDC_GROUP_ROLES is required when single sign-on is enabled")
	}
	return nil
}
