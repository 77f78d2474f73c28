package bootstrap

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	portalauth "github.com/shipnorth/portal-auth"
	"github.com/shipnorth/portal-auth/config"
	httpx "github.com/shipnorth/portal-auth/internal/http"
	"github.com/shipnorth/portal-auth/internal/observability/metrics"
)

// HTTPHandlerConfig contains dependencies for the HTTP handler.
type HTTPHandlerConfig struct {
	Config  *config.AppConfig
	Auth    httpx.AuthServiceInterface
	Metrics *metrics.Auth // optional
	Logger  *slog.Logger
}

// BuildHTTPHandler assembles pages, rate limiting and the router.
func BuildHTTPHandler(cfg HTTPHandlerConfig) (http.Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	pages, err := buildRenderer(appCfg.IsDev, logger)
	if err != nil {
		return nil, err
	}

	var m *metrics.Auth
	if appCfg.Observability.MetricsEnabled {
		m = cfg.Metrics
	}

	return httpx.NewRouter(httpx.RouterServices{
		Auth:         cfg.Auth,
		CookieName:   appCfg.Auth.CookieName,
		CookieDomain: appCfg.HTTP.CookieDomain,
		Pages:        pages,
		LoginLimiter: httpx.NewLoginRateLimiter(appCfg.HTTP.LoginRatePerMinute, appCfg.HTTP.LoginBurst, m),
		Metrics:      m,
		Logger:       logger,
	}), nil
}

// buildRenderer reads templates from disk in dev mode when run from the repo root,
// otherwise from the embedded copy.
func buildRenderer(isDev bool, logger *slog.Logger) (*httpx.TemplateRenderer, error) {
	var fsys fs.FS
	if isDev {
		if dev, ok := httpx.DevTemplateFS(); ok {
			logger.Info("serving templates from disk", "path", httpx.TemplatePathFromRoot)
			fsys = dev
		}
	}
	if fsys == nil {
		sub, err := fs.Sub(portalauth.TemplateFS, httpx.TemplatePathFromRoot)
		if err != nil {
			return nil, fmt.Errorf("open embedded templates: %w", err)
		}
		fsys = sub
	}

	pages, err := httpx.NewTemplateRenderer(httpx.TemplateRendererConfig{
		TemplateFS: fsys,
		DevMode:    isDev,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return pages, nil
}

// NewHTTPServer returns a server for handler with the configured timeouts.
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	addr := cfg.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
