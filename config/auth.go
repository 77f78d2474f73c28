package config

import (
	"fmt"
	"strings"
	"time"
)

// SessionStoreMode selects the session storage backend.
type SessionStoreMode string

const (
	// SessionStoreRedis keeps sessions in Redis with a TTL equal to the session lifetime.
	SessionStoreRedis SessionStoreMode = "redis"
	// SessionStoreMemory keeps sessions in process memory (development only).
	SessionStoreMemory SessionStoreMode = "memory"
)

// UnmarshalText implements encoding.TextUnmarshaler for SessionStoreMode.
func (m *SessionStoreMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "redis", "memory":
		*m = SessionStoreMode(v)
		return nil
	default:
		return fmt.Errorf("invalid session store: %q (valid options: redis, memory)", v)
	}
}

// UserStoreMode selects the account storage backend.
type UserStoreMode string

const (
	// UserStorePostgres reads accounts from the users tables.
	UserStorePostgres UserStoreMode = "postgres"
	// UserStoreMemory keeps accounts in process memory, seeded with the demo users.
	UserStoreMemory UserStoreMode = "memory"
)

// UnmarshalText implements encoding.TextUnmarshaler for UserStoreMode.
func (m *UserStoreMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "postgres", "memory":
		*m = UserStoreMode(v)
		return nil
	default:
		return fmt.Errorf("invalid user store: %q (valid options: postgres, memory)", v)
	}
}

// OIDCConfig contains single sign-on configuration. SSO is disabled unless
// Enabled is set and an issuer is configured.
type OIDCConfig struct {
	Enabled      bool   `env:"ENABLED"       envDefault:"false"`
	IssuerURL    string `env:"ISSUER_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"  envDefault:"http://localhost:8080/auth/sso/callback"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email groups"`
	GroupsClaim  string `env:"GROUPS_CLAIM"  envDefault:"groups"`
	// GroupRoles maps IdP groups to roles, e.g. "staff=ops|dispatch,admin=it-admins".
	GroupRoles string `env:"GROUP_ROLES"   envDefault:""`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	SessionStore SessionStoreMode `env:"AUTH_SESSION_STORE" envDefault:"redis"`
	UserStore    UserStoreMode    `env:"AUTH_USER_STORE"    envDefault:"postgres"`

	// SessionTTL is the lifetime of a session created by login.
	SessionTTL time.Duration `env:"AUTH_SESSION_TTL" envDefault:"8h"`

	// CookieName is the name of the HTTP-only session cookie.
	CookieName string `env:"AUTH_COOKIE_NAME" envDefault:"session_id"`

	// JWTSecret signs bearer tokens. When empty in dev mode a fixed dev secret is used;
	// outside dev mode bearer tokens are disabled.
	JWTSecret string        `env:"AUTH_JWT_SECRET"`
	JWTIssuer string        `env:"AUTH_JWT_ISSUER" envDefault:"portal-auth"`
	JWTTTL    time.Duration `env:"AUTH_JWT_TTL"    envDefault:"1h"`

	// BcryptCost is the work factor for newly hashed passwords.
	BcryptCost int `env:"AUTH_BCRYPT_COST" envDefault:"10"`

	// SeedDemoUsers creates the four demo accounts on startup.
	SeedDemoUsers bool `env:"AUTH_SEED_DEMO_USERS" envDefault:"false"`

	OIDC   OIDCConfig   `envPrefix:"AUTH_OIDC_"`
	DevSSO DevSSOConfig `envPrefix:"AUTH_DEV_SSO_"`
}

// DevSSOConfig signs every SSO login in as one configured identity. It only
// takes effect in dev mode when OIDC is disabled. Groups are mapped to roles
// with OIDC.GroupRoles.
type DevSSOConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Email   string   `env:"EMAIL"   envDefault:"sso-dev@shipnorth.com"`
	Name    string   `env:"NAME"    envDefault:"Dev User"`
	Groups  []string `env:"GROUPS"  envSeparator:","`
}

const (
	devJWTSecret = "portal-auth-dev-secret"
	minBcrypt    = 4
	maxBcrypt    = 31
)

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize(isDev bool) {
	if a.SessionStore == "" {
		a.SessionStore = SessionStoreRedis
	}
	if a.UserStore == "" {
		a.UserStore = UserStorePostgres
	}
	if a.SessionTTL <= 0 {
		a.SessionTTL = 8 * time.Hour
	}
	if a.JWTTTL <= 0 || a.JWTTTL > a.SessionTTL {
		a.JWTTTL = a.SessionTTL
	}
	a.CookieName = strings.TrimSpace(a.CookieName)
	if a.CookieName == "" {
		a.CookieName = "session_id"
	}
	a.JWTSecret = strings.TrimSpace(a.JWTSecret)
	if a.JWTSecret == "" && isDev {
		a.JWTSecret = devJWTSecret
	}
	if a.BcryptCost < minBcrypt {
		a.BcryptCost = minBcrypt
	}
	if a.BcryptCost > maxBcrypt {
		a.BcryptCost = maxBcrypt
	}
	// The memory user store has no other way to get accounts.
	if a.UserStore == UserStoreMemory {
		a.SeedDemoUsers = true
	}
	a.OIDC.sanitize()
	a.DevSSO.Email = strings.TrimSpace(a.DevSSO.Email)
	if !isDev || a.OIDC.Enabled || a.DevSSO.Email == "" {
		a.DevSSO.Enabled = false
	}
}

// TokensEnabled reports whether bearer tokens can be issued.
func (a *AuthConfig) TokensEnabled() bool {
	return a.JWTSecret != ""
}

func (c *OIDCConfig) sanitize() {
	c.IssuerURL = strings.TrimSpace(c.IssuerURL)
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.GroupsClaim = strings.TrimSpace(c.GroupsClaim)
	if c.GroupsClaim == "" {
		c.GroupsClaim = "groups"
	}
	if c.IssuerURL == "" || c.ClientID == "" {
		c.Enabled = false
	}
}

// Scopes splits Scope into individual OAuth scopes.
func (c OIDCConfig) Scopes() []string {
	return strings.Fields(c.Scope)
}
