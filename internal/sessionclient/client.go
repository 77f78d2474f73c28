// Package sessionclient talks to the session endpoints of the auth service on behalf of
// a browser-like caller. The session cookie lives only in the cookie jar; the client
// never reads or writes its value.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	obserrors "github.com/shipnorth/portal-auth/internal/observability/errors"
	"golang.org/x/net/publicsuffix"
)

// DefaultTimeout bounds every call when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

const maxResponseBody = 1 << 20

var errNoRoles = errors.New("session user has no roles")

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient is used as is when set, so callers can share its cookie jar.
	// Otherwise a client with a fresh jar is built.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Session is the outcome of one session check. IsAuthenticated is false for every
// failure so callers always get a fail-closed state.
type Session struct {
	User            domainauth.User
	ActivePortal    domainauth.Portal
	ExpiresAt       time.Time
	IsAuthenticated bool
	// Expired is set when the previous observation on this client was authenticated
	// and the server now reports no session.
	Expired bool
}

// Client calls the auth service. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu            sync.Mutex
	user          *domainauth.User
	authenticated bool
}

// New builds a Client for the service at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		jar, err := NewJar()
		if err != nil {
			return nil, err
		}
		hc = &http.Client{Jar: jar, Timeout: timeout}
	}

	return &Client{base: base, http: hc, timeout: timeout, logger: cfg.Logger}, nil
}

// NewJar returns a cookie jar using the public suffix list.
func NewJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}

func (c *Client) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// GetSession performs one session round-trip. A missing session is not an error.
// Transport failures and 5xx answers return an unauthenticated Session plus an *Error.
func (c *Client) GetSession(ctx context.Context) (Session, error) {
	resp, err := c.send(ctx, http.MethodGet, "/auth/session", nil)
	if err != nil {
		c.dropUser()
		return Session{}, err
	}

	switch resp.status {
	case http.StatusOK:
		var body sessionBody
		if err := json.Unmarshal(resp.body, &body); err != nil {
			c.dropUser()
			return Session{}, &Error{Kind: KindServerError, Status: resp.status, Err: fmt.Errorf("decode session: %w", err)}
		}
		user := body.User.toUser()
		if len(user.Roles) == 0 {
			c.forget()
			return Session{}, &Error{Kind: KindServerError, Status: resp.status, Err: errNoRoles}
		}
		portal, _ := domainauth.ParsePortal(body.ActivePortal)
		c.remember(user)
		return Session{User: user, ActivePortal: portal, ExpiresAt: body.ExpiresAt, IsAuthenticated: true}, nil
	case http.StatusUnauthorized:
		return Session{Expired: c.forget()}, nil
	default:
		c.dropUser()
		c.log().WarnContext(ctx, "session check failed", "status", resp.status)
		return Session{}, resp.failure(statusKind(resp.status))
	}
}

// Login signs in with a password. The session cookie is stored in the jar.
func (c *Client) Login(ctx context.Context, email, password string) (domainauth.User, error) {
	resp, err := c.send(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return domainauth.User{}, err
	}

	switch resp.status {
	case http.StatusOK:
		var body struct {
			User wireUser `json:"user"`
		}
		if err := json.Unmarshal(resp.body, &body); err != nil {
			return domainauth.User{}, &Error{Kind: KindServerError, Status: resp.status, Err: fmt.Errorf("decode login: %w", err)}
		}
		user := body.User.toUser()
		if len(user.Roles) == 0 {
			c.forget()
			return domainauth.User{}, &Error{Kind: KindServerError, Status: resp.status, Err: errNoRoles}
		}
		c.remember(user)
		return user, nil
	case http.StatusBadRequest, http.StatusUnauthorized:
		return domainauth.User{}, resp.failure(KindInvalidCredentials)
	default:
		return domainauth.User{}, resp.failure(statusKind(resp.status))
	}
}

// Logout ends the session. It succeeds whether or not a session existed.
func (c *Client) Logout(ctx context.Context) error {
	c.forget()
	resp, err := c.send(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	if resp.status/100 != 2 {
		return resp.failure(statusKind(resp.status))
	}
	return nil
}

// SwitchPortal asks the server to make portal the active one and returns the updated user.
func (c *Client) SwitchPortal(ctx context.Context, portal domainauth.Portal) (domainauth.User, error) {
	resp, err := c.send(ctx, http.MethodPost, "/auth/switch-portal", map[string]string{"portal": string(portal)})
	if err != nil {
		return domainauth.User{}, err
	}

	switch resp.status {
	case http.StatusOK:
		var body struct {
			User wireUser `json:"user"`
		}
		if err := json.Unmarshal(resp.body, &body); err != nil {
			return domainauth.User{}, &Error{Kind: KindServerError, Status: resp.status, Err: fmt.Errorf("decode switch: %w", err)}
		}
		user := body.User.toUser()
		c.remember(user)
		return user, nil
	case http.StatusUnauthorized:
		c.forget()
		return domainauth.User{}, resp.failure(KindSessionExpired)
	case http.StatusBadRequest:
		return domainauth.User{}, resp.failure(KindForbidden)
	default:
		return domainauth.User{}, resp.failure(statusKind(resp.status))
	}
}

// User returns the last user this client saw authenticated.
func (c *Client) User() (domainauth.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return domainauth.User{}, false
	}
	return *c.user, true
}

// HasRole reports whether the cached user holds role.
func (c *Client) HasRole(role domainauth.Role) bool {
	u, ok := c.User()
	return ok && domainauth.HasRole(u.Roles, role)
}

// CanAccessPortal reports whether the cached user may enter portal.
func (c *Client) CanAccessPortal(portal domainauth.Portal) bool {
	u, ok := c.User()
	return ok && domainauth.CanAccessPortal(u.Roles, portal)
}

func (c *Client) remember(u domainauth.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = &u
	c.authenticated = true
}

// dropUser clears the cached user after a check that could not confirm the session.
// The authenticated flag survives so a later 401 is still reported as an expiry.
func (c *Client) dropUser() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
}

// forget drops the cached user and reports whether it was authenticated.
func (c *Client) forget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.authenticated
	c.user = nil
	c.authenticated = false
	return was
}

type response struct {
	status int
	body   []byte
}

func (r response) failure(kind Kind) *Error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	var cause error
	if json.Unmarshal(r.body, &body) == nil && body.Error != "" {
		cause = errors.New(body.Error)
	}
	return &Error{Kind: kind, Status: r.status, Err: cause}
}

func statusKind(status int) Kind {
	if status == http.StatusForbidden {
		return KindForbidden
	}
	return KindServerError
}

func (c *Client) send(ctx context.Context, method, path string, payload any) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(&url.URL{Path: path}).String(), body)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log().WarnContext(ctx, "auth server request failed", "method", method, "path", path, "error_type", obserrors.Classify(err))
		return response{}, &Error{Kind: KindNetworkError, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return response{}, &Error{Kind: KindNetworkError, Status: resp.StatusCode, Err: err}
	}
	return response{status: resp.StatusCode, body: b}, nil
}
