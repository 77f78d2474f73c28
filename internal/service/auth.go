package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/observability/metrics"
	"github.com/shipnorth/portal-auth/internal/ports"
)

// DefaultSessionTTL bounds a session when no TTL is configured.
const DefaultSessionTTL = 8 * time.Hour

// Login method labels.
const (
	methodPassword = "password"
	methodSSO      = "sso"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountDisabled is returned when valid credentials belong to a disabled account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrNoPortalAccess is returned when an account carries no usable role.
	ErrNoPortalAccess = errors.New("account has no portal access")
	// ErrSessionNotFound is returned when no live session matches the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session passed its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrPortalForbidden is returned when the user's roles do not grant the portal.
	ErrPortalForbidden = errors.New("portal not permitted")
	// ErrInvalidPortal is returned for an unknown portal name.
	ErrInvalidPortal = errors.New("invalid portal")
	// ErrSSODisabled is returned when no SSO provider is configured.
	ErrSSODisabled = errors.New("single sign-on is not configured")
)

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Users    ports.UserStore
	Sessions ports.SessionStore
	Hasher   ports.PasswordHasher
	Tokens   ports.TokenIssuer   // optional; no bearer token is issued when nil
	Provider ports.AuthProvider  // optional; SSO is disabled when nil
	Roles    ports.RoleMapper    // required when Provider is set
	Metrics  *metrics.Auth       // optional
	Logger   *slog.Logger        // optional
	TTL      time.Duration       // session lifetime; DefaultSessionTTL when zero
	Now      func() time.Time    // optional clock
}

// AuthService orchestrates password and SSO login, session resolution and portal switching.
type AuthService struct {
	users    ports.UserStore
	sessions ports.SessionStore
	hasher   ports.PasswordHasher
	tokens   ports.TokenIssuer
	provider ports.AuthProvider
	roles    ports.RoleMapper
	metrics  *metrics.Auth
	log      *slog.Logger
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:    opts.Users,
		sessions: opts.Sessions,
		hasher:   opts.Hasher,
		tokens:   opts.Tokens,
		provider: opts.Provider,
		roles:    opts.Roles,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		ttl:      ttl,
		now:      now,
	}
}

func (s *AuthService) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}

// SSOEnabled reports whether an SSO provider is wired.
func (s *AuthService) SSOEnabled() bool { return s.provider != nil }

// Metrics returns the metrics sink shared with the HTTP layer. May be nil.
func (s *AuthService) Metrics() *metrics.Auth { return s.metrics }

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User    domainauth.User
	Session domainauth.Session
	Token   string
}

// Landing returns the portal the user should be sent to after login.
func (r LoginResult) Landing() domainauth.Portal { return r.Session.ActivePortal }

// SessionView is a resolved session together with a fresh copy of its user.
type SessionView struct {
	User    domainauth.User
	Session domainauth.Session
}

// Login verifies credentials and creates a session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.metrics.Login(methodPassword, metrics.ResultFailure)
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			s.metrics.Login(methodPassword, metrics.ResultFailure)
			return nil, ErrInvalidCredentials
		}
		s.metrics.Login(methodPassword, metrics.ResultInfra)
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if user.PasswordHash == "" || !s.hasher.Verify(user.PasswordHash, password) {
		s.metrics.Login(methodPassword, metrics.ResultFailure)
		return nil, ErrInvalidCredentials
	}

	res, err := s.startSession(ctx, user)
	if err != nil {
		s.metrics.Login(methodPassword, resultFor(err))
		return nil, err
	}
	s.metrics.Login(methodPassword, metrics.ResultSuccess)
	s.logger().InfoContext(ctx, "user logged in",
		"user_id", res.User.ID, "portal", string(res.Session.ActivePortal), "method", methodPassword)
	return res, nil
}

// startSession applies account checks shared by every login method and persists a session.
func (s *AuthService) startSession(ctx context.Context, user domainauth.User) (*LoginResult, error) {
	if user.Disabled {
		return nil, ErrAccountDisabled
	}
	user.Roles = domainauth.NormalizeRoles(domainauth.RoleStrings(user.Roles))
	landing, ok := domainauth.LandingPortal(user)
	if !ok {
		return nil, ErrNoPortalAccess
	}

	now := s.now().UTC()
	sess := domainauth.Session{
		ID:           generateSessionID(),
		UserID:       user.ID,
		Email:        user.Email,
		Roles:        user.Roles,
		ActivePortal: landing,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	res := &LoginResult{User: user, Session: sess}
	if s.tokens != nil {
		token, err := s.tokens.Issue(sess)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("issue token: %w", err), s.sessions.Delete(ctx, sess.ID))
		}
		res.Token = token
	}
	return res, nil
}

// GetSession resolves a session id into a live session and its current user.
// The user record is re-read so disabled accounts and role changes take effect immediately.
func (s *AuthService) GetSession(ctx context.Context, sessionID string) (*SessionView, error) {
	view, err := s.resolve(ctx, sessionID)
	switch {
	case err == nil:
		s.metrics.SessionLookup(metrics.ResultSuccess)
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
		s.metrics.SessionLookup(metrics.ResultMissing)
	default:
		s.metrics.SessionLookup(metrics.ResultInfra)
	}
	return view, err
}

func (s *AuthService) resolve(ctx context.Context, sessionID string) (*SessionView, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if sess.Expired(s.now()) {
		if deleteErr := s.sessions.Delete(ctx, sessionID); deleteErr != nil {
			return nil, errors.Join(ErrSessionExpired, fmt.Errorf("delete session: %w", deleteErr))
		}
		return nil, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, s.revoke(ctx, sessionID)
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	user.Roles = domainauth.NormalizeRoles(domainauth.RoleStrings(user.Roles))
	if user.Disabled || len(user.Roles) == 0 {
		return nil, s.revoke(ctx, sessionID)
	}

	sess.Roles = user.Roles
	if !domainauth.CanAccessPortal(user.Roles, sess.ActivePortal) {
		sess.ActivePortal, _ = domainauth.LandingPortal(user)
	}
	return &SessionView{User: user, Session: sess}, nil
}

// revoke deletes a session whose owner can no longer hold it.
func (s *AuthService) revoke(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return errors.Join(ErrSessionNotFound, fmt.Errorf("delete session: %w", err))
	}
	return ErrSessionNotFound
}

// AuthenticateToken resolves a bearer token into the session it is bound to.
func (s *AuthService) AuthenticateToken(ctx context.Context, token string) (*SessionView, error) {
	if s.tokens == nil || token == "" {
		return nil, ErrSessionNotFound
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		s.metrics.SessionLookup(metrics.ResultMissing)
		return nil, ErrSessionNotFound
	}
	view, err := s.GetSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if view.Session.UserID != claims.UserID {
		return nil, ErrSessionNotFound
	}
	return view, nil
}

// Logout removes a session. Unknown or empty ids succeed.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SwitchPortal records target as the user's last-used portal and the session's active portal.
func (s *AuthService) SwitchPortal(ctx context.Context, sessionID, target string) (*SessionView, error) {
	portal, ok := domainauth.ParsePortal(target)
	if !ok {
		s.metrics.PortalSwitch("unknown", metrics.ResultFailure)
		return nil, ErrInvalidPortal
	}

	view, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !domainauth.CanAccessPortal(view.User.Roles, portal) {
		s.metrics.PortalSwitch(string(portal), metrics.ResultForbidden)
		return nil, ErrPortalForbidden
	}

	if err := s.users.UpdateLastUsedPortal(ctx, view.User.ID, portal); err != nil {
		s.metrics.PortalSwitch(string(portal), metrics.ResultInfra)
		return nil, fmt.Errorf("update last used portal: %w", err)
	}
	view.User.LastUsedPortal = portal
	view.Session.ActivePortal = portal
	if err := s.sessions.Save(ctx, view.Session); err != nil {
		s.metrics.PortalSwitch(string(portal), metrics.ResultInfra)
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.metrics.PortalSwitch(string(portal), metrics.ResultSuccess)
	return view, nil
}

// CreateUserInput carries a plaintext account definition.
type CreateUserInput struct {
	Email    string
	Name     string
	Password string
	Roles    []string
}

// CreateUser hashes the password and persists a new account.
func (s *AuthService) CreateUser(ctx context.Context, in CreateUserInput) (domainauth.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return domainauth.User{}, errors.New("email is required")
	}
	roles := domainauth.NormalizeRoles(in.Roles)
	if len(roles) == 0 {
		return domainauth.User{}, ErrNoPortalAccess
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return domainauth.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, ports.CreateUserInput{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Roles:        roles,
	})
	if err != nil {
		return domainauth.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// BeginLoginResult contains the result of beginning an SSO flow.
type BeginLoginResult struct {
	AuthURL string
	State   string
	Nonce   string
}

// BeginSSOLogin initiates an SSO flow and returns the provider auth URL with state and nonce.
func (s *AuthService) BeginSSOLogin(ctx context.Context, redirectURL string) (*BeginLoginResult, error) {
	if s.provider == nil {
		return nil, ErrSSODisabled
	}
	if redirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}

	authURL, state, nonce, err := s.provider.Begin(ctx, ports.BeginInput{RedirectURL: redirectURL})
	if err != nil {
		return nil, fmt.Errorf("begin auth flow: %w", err)
	}
	return &BeginLoginResult{AuthURL: authURL, State: state, Nonce: nonce}, nil
}

// CompleteLoginInput groups parameters for completing an SSO flow.
type CompleteLoginInput struct {
	Code  string
	State string
	Nonce string
}

// CompleteSSOLogin exchanges the authorization code, links or provisions the user by email
// and creates a session.
func (s *AuthService) CompleteSSOLogin(ctx context.Context, input CompleteLoginInput) (*LoginResult, error) {
	if s.provider == nil {
		return nil, ErrSSODisabled
	}
	if input.Code == "" {
		return nil, errors.New("authorization code is required")
	}
	if input.State == "" {
		return nil, errors.New("state parameter is required")
	}
	if input.Nonce == "" {
		return nil, errors.New("nonce parameter is required")
	}

	identity, err := s.provider.Exchange(ctx, ports.ExchangeInput{
		Code:  input.Code,
		State: input.State,
		Nonce: input.Nonce,
	})
	if err != nil {
		s.metrics.Login(methodSSO, metrics.ResultFailure)
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	user, err := s.linkIdentity(ctx, identity)
	if err != nil {
		s.metrics.Login(methodSSO, resultFor(err))
		return nil, err
	}

	res, err := s.startSession(ctx, user)
	if err != nil {
		s.metrics.Login(methodSSO, resultFor(err))
		return nil, err
	}
	s.metrics.Login(methodSSO, metrics.ResultSuccess)
	s.logger().InfoContext(ctx, "user logged in",
		"user_id", res.User.ID, "portal", string(res.Session.ActivePortal), "method", methodSSO)
	return res, nil
}

// linkIdentity finds the account owning the identity's email, provisioning one from the
// mapped groups when none exists. Linked accounts keep their stored roles.
func (s *AuthService) linkIdentity(ctx context.Context, identity domainauth.Identity) (domainauth.User, error) {
	email := normalizeEmail(identity.Email)
	if email == "" {
		return domainauth.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return domainauth.User{}, fmt.Errorf("lookup user: %w", err)
	}

	var roles []domainauth.Role
	if s.roles != nil {
		roles = s.roles.Map(identity.Groups)
	}
	if len(roles) == 0 {
		return domainauth.User{}, ErrNoPortalAccess
	}

	name := strings.TrimSpace(identity.FirstName + " " + identity.LastName)
	user, err = s.users.Create(ctx, ports.CreateUserInput{Email: email, Name: name, Roles: roles})
	if err != nil {
		return domainauth.User{}, fmt.Errorf("provision user: %w", err)
	}
	s.logger().InfoContext(ctx, "provisioned sso user", "user_id", user.ID)
	return user, nil
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, ErrAccountDisabled), errors.Is(err, ErrNoPortalAccess):
		return metrics.ResultForbidden
	case errors.Is(err, ErrInvalidCredentials):
		return metrics.ResultFailure
	default:
		return metrics.ResultInfra
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateSessionID creates a cryptographically secure random session ID.
func generateSessionID() string {
	return uuid.NewString()
}
