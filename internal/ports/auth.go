package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"
	"time"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by UserStore.Create when the email is already registered.
var ErrConflict = errors.New("already exists")

// BeginInput carries inputs for initiating an SSO flow.
type BeginInput struct {
	RedirectURL string
}

// AuthProvider initiates and completes an authentication flow against an IdP.
type AuthProvider interface {
	// Begin starts the login flow and returns the provider auth URL, an opaque state, and a nonce.
	Begin(ctx context.Context, in BeginInput) (authURL, state, nonce string, err error)

	// Exchange completes the login flow, verifying state and nonce, and returns the authenticated identity.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Identity, error)
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code  string
	State string
	Nonce string
}

// SessionStore persists and retrieves user sessions.
// Get returns ErrNotFound for unknown or expired ids.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, id string) (domainauth.Session, error)
	Delete(ctx context.Context, id string) error
}

// CreateUserInput carries the fields for a new account.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Roles        []domainauth.Role
}

// UserStore persists user accounts. Email lookups are case-insensitive.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (domainauth.User, error)
	GetByID(ctx context.Context, id string) (domainauth.User, error)
	Create(ctx context.Context, in CreateUserInput) (domainauth.User, error)
	UpdateLastUsedPortal(ctx context.Context, id string, portal domainauth.Portal) error
}

// PasswordHasher hashes and verifies credentials.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// TokenClaims are the verified contents of a bearer token.
type TokenClaims struct {
	SessionID string
	UserID    string
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies bearer tokens bound to a session id.
type TokenIssuer interface {
	Issue(sess domainauth.Session) (string, error)
	Verify(token string) (TokenClaims, error)
}

// RoleMapper maps provider groups to application roles.
type RoleMapper interface {
	Map(groups []string) []domainauth.Role
}
