package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	portalauth "github.com/shipnorth/portal-auth"
	"github.com/shipnorth/portal-auth/internal/adapters/jwttoken"
	"github.com/shipnorth/portal-auth/internal/adapters/memstore"
	"github.com/shipnorth/portal-auth/internal/adapters/password"
	"github.com/shipnorth/portal-auth/internal/observability/metrics"
	"github.com/shipnorth/portal-auth/internal/ports"
	"github.com/shipnorth/portal-auth/internal/service"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testAccount struct {
	email string
	pass  string
	roles []string
}

var testAccounts = []testAccount{
	{"staff@shipnorth.com", "staff123", []string{"staff"}},
	{"driver@shipnorth.com", "driver123", []string{"driver"}},
	{"admin@shipnorth.com", "admin123", []string{"admin"}},
	{"test@test.com", "test123", []string{"customer"}},
	{"multi@shipnorth.com", "multi123", []string{"staff", "driver"}},
}

type testEnv struct {
	svc     *service.AuthService
	users   *memstore.UserStore
	metrics *metrics.Auth
	handler http.Handler
}

type envOption func(*service.AuthServiceOptions, *RouterServices)

func withProvider(p ports.AuthProvider, m ports.RoleMapper) envOption {
	return func(o *service.AuthServiceOptions, _ *RouterServices) {
		o.Provider = p
		o.Roles = m
	}
}

func withLimiter(l *LoginRateLimiter) envOption {
	return func(_ *service.AuthServiceOptions, rs *RouterServices) { rs.LoginLimiter = l }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	users := memstore.NewUserStore()
	tokens, err := jwttoken.New(jwttoken.Options{Secret: "handler-test-secret"})
	require.NoError(t, err)
	m := metrics.New()

	svcOpts := service.AuthServiceOptions{
		Users:    users,
		Sessions: memstore.NewSessionStore(),
		Hasher:   password.Bcrypt{Cost: bcrypt.MinCost},
		Tokens:   tokens,
		Metrics:  m,
		Logger:   discardLogger(),
		TTL:      time.Hour,
	}
	sub, err := fs.Sub(portalauth.TemplateFS, TemplatePathFromRoot)
	require.NoError(t, err)
	pages, err := NewTemplateRenderer(TemplateRendererConfig{TemplateFS: sub, Logger: discardLogger()})
	require.NoError(t, err)
	rs := RouterServices{Pages: pages, Metrics: m, Logger: discardLogger()}
	for _, o := range opts {
		o(&svcOpts, &rs)
	}

	svc := service.NewAuthService(svcOpts)
	for _, a := range testAccounts {
		_, err := svc.CreateUser(t.Context(), service.CreateUserInput{
			Email: a.email, Name: strings.Split(a.email, "@")[0], Password: a.pass, Roles: a.roles,
		})
		require.NoError(t, err)
	}
	rs.Auth = svc

	return &testEnv{svc: svc, users: users, metrics: m, handler: NewRouter(rs)}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *http.Request {
	t.Helper()
	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func browserRequest(method, path string, form url.Values, cookies ...*http.Cookie) *http.Request {
	var rdr io.Reader = http.NoBody
	if form != nil {
		rdr = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// apiLogin signs in through the JSON endpoint and returns the session cookie and body.
func (e *testEnv) apiLogin(t *testing.T, email, pass string) (*http.Cookie, loginResponse) {
	t.Helper()
	rec := e.do(jsonRequest(t, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: pass}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := cookieNamed(rec, DefaultSessionCookie)
	require.NotNil(t, c)
	return c, decode[loginResponse](t, rec)
}

// csrfCookie fetches the login page to obtain a form token cookie.
func (e *testEnv) csrfCookie(t *testing.T) *http.Cookie {
	t.Helper()
	rec := e.do(browserRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	c := cookieNamed(rec, DefaultCSRFCookieName)
	require.NotNil(t, c)
	return c
}

// browserLogin signs in through the HTML form and returns the csrf and session cookies.
func (e *testEnv) browserLogin(t *testing.T, email, pass string) []*http.Cookie {
	t.Helper()
	csrf := e.csrfCookie(t)
	rec := e.do(browserRequest(http.MethodPost, "/login", url.Values{
		"csrf_token": {csrf.Value},
		"email":      {email},
		"password":   {pass},
	}, csrf))
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	sess := cookieNamed(rec, DefaultSessionCookie)
	require.NotNil(t, sess)
	return []*http.Cookie{csrf, sess}
}

// assertCleanPage fails when a rendered page leaks words reserved for failure pages.
func assertCleanPage(t *testing.T, body string) {
	t.Helper()
	lower := strings.ToLower(body)
	for _, marker := range []string{"error", "404", "500"} {
		require.NotContains(t, lower, marker)
	}
}
