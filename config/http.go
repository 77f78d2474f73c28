package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the externally visible base URL (e.g., "https://portal.shipnorth.com").
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// ReadHeaderTimeout bounds how long the server waits for request headers.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// ClientTimeout bounds every session client call to the auth endpoints.
	ClientTimeout time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"5s"`

	// LoginRatePerMinute limits login attempts per client IP. Zero disables the limit.
	LoginRatePerMinute int `env:"HTTP_LOGIN_RATE_PER_MINUTE" envDefault:"20"`
	LoginBurst         int `env:"HTTP_LOGIN_BURST"           envDefault:"10"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 10 * time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 15 * time.Second
	}
	if h.ClientTimeout <= 0 {
		h.ClientTimeout = 5 * time.Second
	}
	if h.LoginRatePerMinute < 0 {
		h.LoginRatePerMinute = 0
	}
	if h.LoginBurst < 1 {
		h.LoginBurst = 1
	}
}
