package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/shipnorth/portal-auth/config"
	"github.com/shipnorth/portal-auth/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) (err error) {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	bootstrap.SetLogLevel(cfg.Observability.SlogLevel())
	logStartupInfo(ctx, logger, &cfg)

	if err = bootstrap.ValidateConfig(&cfg); err != nil {
		return err
	}

	infra, err := bootstrap.Connect(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close infrastructure failed", "error", cerr)
			err = errors.Join(err, cerr)
		}
	}()

	if infra.DB != nil {
		if cfg.Postgres.RunMigrationsOnStart {
			if err = bootstrap.RunMigrations(ctx, infra.DB, logger); err != nil {
				return err
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
	}

	return bootstrap.RunServicesWithShutdown(bootstrap.ServiceConfig{
		Config: &cfg,
		Infra:  infra,
		Logger: logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting portal auth service",
		"dev", cfg.IsDev,
		"addr", cfg.HTTP.Addr,
		"session_store", cfg.Auth.SessionStore,
		"user_store", cfg.Auth.UserStore,
		"sso", cfg.Auth.OIDC.Enabled,
		"seed_demo_users", cfg.Auth.SeedDemoUsers,
	)
}
