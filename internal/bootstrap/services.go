package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shipnorth/portal-auth/config"
	"github.com/shipnorth/portal-auth/internal/observability/metrics"
	"github.com/shipnorth/portal-auth/internal/service"
	"golang.org/x/sync/errgroup"
)

// Infrastructure holds the external connections the service was started with.
// Either field may be nil when its store is not configured.
type Infrastructure struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// Connect opens the connections the configured store modes need.
func Connect(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{}
	if cfg.NeedsPostgres() {
		db, err := ConnectDB(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		infra.DB = db
	}
	if cfg.NeedsRedis() {
		client, err := ConnectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("connect redis: %w", err), infra.Close())
		}
		infra.Redis = client
	}
	return infra, nil
}

// Close releases every open connection.
func (i *Infrastructure) Close() error {
	var errs []error
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ServiceConfig contains everything Run needs.
type ServiceConfig struct {
	Config *config.AppConfig
	Infra  *Infrastructure
	Logger *slog.Logger
	// Listener is optional; the server listens on Config.HTTP.Addr when nil.
	Listener net.Listener
}

// BuildServices wires the auth service and HTTP handler for cfg.
func BuildServices(ctx context.Context, cfg ServiceConfig) (*service.AuthService, http.Handler, error) {
	if cfg.Config == nil {
		return nil, nil, errors.New("service config missing AppConfig")
	}
	infra := cfg.Infra
	if infra == nil {
		infra = &Infrastructure{}
	}

	m := metrics.New()
	svc, err := BuildAuthService(ctx, AuthDeps{
		Auth:             cfg.Config.Auth,
		DB:               infra.DB,
		Redis:            infra.Redis,
		SessionKeyPrefix: cfg.Config.Redis.KeyPrefix,
		Metrics:          m,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build auth service: %w", err)
	}

	handler, err := BuildHTTPHandler(HTTPHandlerConfig{
		Config:  cfg.Config,
		Auth:    svc,
		Metrics: m,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, handler, nil
}

// RunServicesWithShutdown runs the HTTP server until SIGINT or SIGTERM, or until it fails.
func RunServicesWithShutdown(cfg ServiceConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, cfg)
}

// Run serves until ctx is canceled, then drains in-flight requests.
func Run(ctx context.Context, cfg ServiceConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	_, handler, err := BuildServices(ctx, cfg)
	if err != nil {
		return err
	}
	server := NewHTTPServer(cfg.Config.HTTP, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		var serveErr error
		if cfg.Listener != nil {
			serveErr = server.Serve(cfg.Listener)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", serveErr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		return shutdown(server, cfg.Config.HTTP.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}

func shutdown(server *http.Server, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
