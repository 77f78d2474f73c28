package authagent

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	portalauth "github.com/shipnorth/portal-auth"
	"github.com/shipnorth/portal-auth/internal/adapters/jwttoken"
	"github.com/shipnorth/portal-auth/internal/adapters/memstore"
	"github.com/shipnorth/portal-auth/internal/adapters/password"
	"github.com/shipnorth/portal-auth/internal/devseed"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	httpx "github.com/shipnorth/portal-auth/internal/http"
	"github.com/shipnorth/portal-auth/internal/service"
	"github.com/shipnorth/portal-auth/internal/sessionclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var multiRole = devseed.Account{
	Email: "multi@shipnorth.com", Password: "multi123", Name: "Morgan Multi",
	Roles: []string{"staff", "driver"}, Landing: "/staff",
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newPortalServer runs the full router with in-memory stores and the demo accounts.
func newPortalServer(t *testing.T) *httptest.Server {
	t.Helper()

	tokens, err := jwttoken.New(jwttoken.Options{Secret: "agent-test-secret"})
	require.NoError(t, err)
	svc := service.NewAuthService(service.AuthServiceOptions{
		Users:    memstore.NewUserStore(),
		Sessions: memstore.NewSessionStore(),
		Hasher:   password.Bcrypt{Cost: bcrypt.MinCost},
		Tokens:   tokens,
		Logger:   discard(),
		TTL:      time.Hour,
	})
	accounts := append(devseed.DemoAccounts(), multiRole)
	require.NoError(t, devseed.Seed(t.Context(), svc, accounts, discard()))

	sub, err := fs.Sub(portalauth.TemplateFS, httpx.TemplatePathFromRoot)
	require.NoError(t, err)
	pages, err := httpx.NewTemplateRenderer(httpx.TemplateRendererConfig{TemplateFS: sub, Logger: discard()})
	require.NoError(t, err)

	srv := httptest.NewServer(httpx.NewRouter(httpx.RouterServices{
		Auth:   svc,
		Pages:  pages,
		Logger: discard(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAgent(t *testing.T, srv *httptest.Server) *Agent {
	t.Helper()
	a, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second, Logger: discard()})
	require.NoError(t, err)
	return a
}

func TestScenario_StaffLogin(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, "staff@shipnorth.com", "staff123"))
	assert.Contains(t, a.Browser().URL().String(), "/staff")

	sess, err := a.Client().GetSession(ctx)
	require.NoError(t, err)
	assert.True(t, sess.IsAuthenticated)
	assert.Equal(t, "staff@shipnorth.com", sess.User.Email)
}

func TestScenario_DriverSurvivesReload(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, "driver@shipnorth.com", "driver123"))
	assert.Contains(t, a.Browser().URL().String(), "/driver")

	require.NoError(t, a.Browser().Reload(ctx))
	assert.Equal(t, "/driver", a.Browser().URL().Path)
	require.NoError(t, a.ExpectPortalAccess(ctx, "/driver"))
}

func TestScenario_AdminArea(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, "admin@shipnorth.com", "admin123"))
	require.NoError(t, a.ExpectPortalAccess(ctx, "/staff/admin"))
	assert.NotContains(t, a.Browser().URL().Path, "/login")
}

func TestScenario_CustomerPortalIsClean(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, "test@test.com", "test123"))
	assert.Contains(t, a.Browser().URL().String(), "/portal")
	body := strings.ToLower(a.Browser().Body())
	assert.NotContains(t, body, "404")
	assert.NotContains(t, body, "error")
}

func TestScenario_AnonymousSessionIs401(t *testing.T) {
	srv := newPortalServer(t)
	resp, err := http.Get(srv.URL + "/auth/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NoError(t, newAgent(t, srv).ValidateSessionCleared(context.Background()))
}

func TestScenario_AnonymousStaffRedirectsToLogin(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	err := a.ExpectPortalAccess(context.Background(), "/staff")
	require.ErrorIs(t, err, ErrRedirectedToLogin)
	assert.Contains(t, a.Browser().URL().String(), "/login")
	assert.Equal(t, "/staff", a.Browser().URL().Query().Get("redirect_uri"))
}

func TestScenario_LogoutClearsSession(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, "staff@shipnorth.com", "staff123"))
	require.NoError(t, a.Logout(ctx))
	require.ErrorIs(t, a.ValidateSessionExists(ctx), ErrSessionMissing)

	sess, err := a.Client().GetSession(ctx)
	require.NoError(t, err)
	assert.False(t, sess.IsAuthenticated)
}

func TestLogout_FallsBackToAPI(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, "driver@shipnorth.com", "driver123"))
	// The login page has no logout form.
	require.NoError(t, a.Browser().Goto(ctx, "/login"))
	_, ok := a.Browser().FindForm(ByID(logoutFormID))
	require.False(t, ok)

	require.NoError(t, a.Logout(ctx))
}

func TestLogin_BadPasswordIsRejected(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	err := a.Login(context.Background(), "staff@shipnorth.com", "wrong")
	require.ErrorIs(t, err, ErrLoginRejected)
	assert.Equal(t, domainauth.LoginPath, a.Browser().URL().Path)
}

func TestExpectPortalAccess_WrongRoleRedirectsToLogin(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, "driver@shipnorth.com", "driver123"))
	require.ErrorIs(t, a.ExpectPortalAccess(ctx, "/staff"), ErrRedirectedToLogin)
	assert.Equal(t, "/staff", a.Browser().URL().Query().Get("redirect_uri"))
}

func TestSwitchPortal(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, multiRole.Email, multiRole.Password))
	assert.Equal(t, "/staff", a.Browser().URL().Path)

	require.NoError(t, a.SwitchPortal(ctx, domainauth.PortalDriver))
	assert.Equal(t, "/driver", a.Browser().URL().Path)

	sess, err := a.Client().GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domainauth.PortalDriver, sess.ActivePortal)

	// The next sign-in lands on the last used portal.
	require.NoError(t, a.Logout(ctx))
	require.NoError(t, a.Login(ctx, multiRole.Email, multiRole.Password))
	assert.Equal(t, "/driver", a.Browser().URL().Path)
}

func TestSwitchPortal_NotPermitted(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	require.NoError(t, a.Login(ctx, "test@test.com", "test123"))
	require.Error(t, a.SwitchPortal(ctx, domainauth.PortalStaff))
	assert.Equal(t, "/portal", a.Browser().URL().Path)
}

func TestSwitchPortal_RequiresSession(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	require.ErrorIs(t, a.SwitchPortal(context.Background(), domainauth.PortalDriver), ErrSessionMissing)
}

func TestTestAllUsers(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	fixtures := append(DefaultFixtures(), Fixture{Email: multiRole.Email, Password: multiRole.Password, Landing: "/staff"})

	report := a.TestAllUsers(context.Background(), fixtures)
	var out bytes.Buffer
	require.NoError(t, report.Write(&out))
	require.True(t, report.Passed(), out.String())
	assert.Len(t, report.Users, 5)
	assert.Contains(t, out.String(), "5/5 users passed")
	for _, u := range report.Users {
		assert.NotEmpty(t, u.Steps, u.Email)
	}
}

func TestTestAllUsers_StopsAtFirstFailure(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	report := a.TestAllUsers(context.Background(), []Fixture{
		{Email: "staff@shipnorth.com", Password: "nope", Landing: "/staff"},
		{Email: "driver@shipnorth.com", Password: "driver123", Landing: "/staff"},
	})
	require.Len(t, report.Users, 2)
	assert.False(t, report.Passed())
	assert.Equal(t, 2, report.Failures())

	first := report.Users[0]
	require.Len(t, first.Steps, 1)
	assert.Equal(t, "login", first.Steps[0].Name)
	assert.ErrorIs(t, first.Steps[0].Err, ErrLoginRejected)

	second := report.Users[1]
	require.Len(t, second.Steps, 2)
	assert.ErrorIs(t, second.Steps[1].Err, ErrWrongLocation)
}

func TestDefaultFixtures(t *testing.T) {
	got := DefaultFixtures()
	require.Len(t, got, 4)
	landing := map[string]string{}
	for _, f := range got {
		landing[f.Email] = f.Landing
	}
	assert.Equal(t, map[string]string{
		"staff@shipnorth.com":  "/staff",
		"driver@shipnorth.com": "/driver",
		"admin@shipnorth.com":  "/staff",
		"test@test.com":        "/portal",
	}, landing)
	for _, f := range got {
		if f.Email == "admin@shipnorth.com" {
			assert.Equal(t, []string{"/staff/admin"}, f.Extra)
		} else {
			assert.Empty(t, f.Extra)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	require.NoError(t, newAgent(t, newPortalServer(t)).HealthCheck(context.Background()))
}

func TestHealthCheck_ReportsEveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"degraded"}`)
		case "/auth/session":
			_, _ = io.WriteString(w, `{"user":{}}`)
		default:
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	err := newAgent(t, srv).HealthCheck(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssertion)
	assert.ErrorIs(t, err, ErrSessionNotCleared)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestHealthCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := New(Config{BaseURL: url, Timeout: time.Second, Logger: discard()})
	require.NoError(t, err)
	require.Error(t, a.HealthCheck(context.Background()))
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestErrorMarker(t *testing.T) {
	assert.Equal(t, "", errorMarker("<p>Welcome back</p>"))
	assert.Equal(t, "404", errorMarker("<h1>404 Not Found</h1>"))
	assert.Equal(t, "error", errorMarker("Unexpected ERROR"))
	assert.Equal(t, "500", errorMarker("status 500"))
}

func TestClientSharesBrowserCookies(t *testing.T) {
	a := newAgent(t, newPortalServer(t))
	ctx := context.Background()

	_, err := a.Client().Login(ctx, "staff@shipnorth.com", "staff123")
	require.NoError(t, err)
	// The browser sees the API sign-in through the shared jar.
	require.NoError(t, a.ExpectPortalAccess(ctx, "/staff"))

	_, err = a.Client().Login(ctx, "staff@shipnorth.com", "bad")
	assert.ErrorIs(t, err, sessionclient.ErrInvalidCredentials)
}

func TestExpectPortalAccess_GuardMustAgree(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /staff", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<h1>Staff portal</h1>")
	})
	mux.HandleFunc("GET /auth/session", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"unauthenticated"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := newAgent(t, srv)
	require.ErrorIs(t, a.ExpectPortalAccess(context.Background(), "/staff"), ErrGuardDenied)
}
