package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/observability/metrics"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Auth         AuthServiceInterface
	CookieName   string
	CookieDomain string
	// Pages renders the HTML routes. When nil only the JSON API is served.
	Pages *TemplateRenderer
	// LoginLimiter throttles login attempts per IP. Nil disables throttling.
	LoginLimiter *LoginRateLimiter
	Metrics      *metrics.Auth // optional; /metrics is only served when set
	Logger       *slog.Logger  // optional
}

// NewRouter creates the HTTP handler with its middleware chain.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &AuthHandlers{
		Svc:          services.Auth,
		CookieName:   services.CookieName,
		CookieDomain: services.CookieDomain,
		Pages:        services.Pages,
		Metrics:      services.Metrics,
		Logger:       logger,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /health", http.HandlerFunc(healthHandler))
	if services.Metrics != nil {
		mux.Handle("GET /metrics", services.Metrics.Handler())
	}
	registerAuthRoutes(mux, h, services.LoginLimiter)
	if h.Pages != nil {
		registerPageRoutes(mux, h, services.LoginLimiter, services.CookieDomain)
	}

	// Instrument must wrap the mux directly: it reads the pattern the mux records on the request.
	var handler http.Handler = mux
	handler = services.Metrics.Instrument(handler)
	handler = BrowserDetection()(handler)
	handler = Recover(logger)(handler)
	handler = Logging(logger)(handler)
	return RequestID()(handler)
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, limiter *LoginRateLimiter) {
	mux.Handle("POST /auth/login", LoginRateLimit(limiter)(http.HandlerFunc(h.Login)))
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/session", h.Session)
	mux.HandleFunc("POST /auth/switch-portal", h.SwitchPortal)
	mux.HandleFunc("GET /auth/sso/login", h.SSOLogin)
	mux.HandleFunc("GET /auth/sso/callback", h.SSOCallback)
}

func registerPageRoutes(mux *http.ServeMux, h *AuthHandlers, limiter *LoginRateLimiter, cookieDomain string) {
	csrf := CSRFProtection(CSRFConfig{CookieDomain: cookieDomain})

	mux.Handle("GET /{$}", http.HandlerFunc(h.Root))
	mux.Handle("GET /login", csrf(http.HandlerFunc(h.LoginPage)))
	mux.Handle("POST /login", csrf(LoginRateLimit(limiter)(http.HandlerFunc(h.LoginForm))))
	mux.Handle("POST /logout", csrf(http.HandlerFunc(h.LogoutForm)))
	mux.Handle("POST /switch-portal", csrf(http.HandlerFunc(h.SwitchPortalForm)))

	for _, p := range domainauth.AllPortals() {
		mux.Handle("GET "+p.RootPath(), csrf(RequirePortal(h, p)(h.PortalPage(p))))
	}
	mux.Handle("GET "+AdminPath, csrf(RequireRoles(h, domainauth.RoleAdmin)(http.HandlerFunc(h.AdminPage))))
}
