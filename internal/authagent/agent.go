// Package authagent drives the portals the way a person with a browser would, and
// reports whether each account can sign in, reach its portal and sign out again.
package authagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/guard"
	"github.com/shipnorth/portal-auth/internal/portalswitch"
	"github.com/shipnorth/portal-auth/internal/sessionclient"
)

const (
	loginFormID  = "login-form"
	logoutFormID = "logout-form"
)

// Failure kinds reported by the agent steps.
var (
	ErrLoginRejected     = errors.New("login did not reach a portal")
	ErrRedirectedToLogin = errors.New("redirected to login")
	ErrWrongLocation     = errors.New("unexpected location")
	ErrErrorMarker       = errors.New("page shows an error marker")
	ErrUnexpectedStatus  = errors.New("unexpected status")
	ErrSessionMissing    = errors.New("no valid session")
	ErrSessionNotCleared = errors.New("session still valid")
	ErrAssertion         = errors.New("assertion failed")
	ErrGuardDenied       = errors.New("route guard denied the page")
)

// errorMarkers are matched case-insensitively against page bodies.
var errorMarkers = []string{"404", "500", "error"}

// Config configures an Agent.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Transport http.RoundTripper // optional
	Logger    *slog.Logger      // optional
}

// Agent owns one browser and one session client that share a cookie jar.
type Agent struct {
	cfg     Config
	browser *Browser
	client  *sessionclient.Client
}

// New returns an Agent with a fresh browser.
func New(cfg Config) (*Agent, error) {
	b, err := NewBrowser(BrowserConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Transport: cfg.Transport})
	if err != nil {
		return nil, err
	}
	c, err := sessionclient.New(sessionclient.Config{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		HTTPClient: b.HTTPClient(),
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Agent{cfg: cfg, browser: b, client: c}, nil
}

func (a *Agent) logger() *slog.Logger {
	if a.cfg.Logger != nil {
		return a.cfg.Logger
	}
	return slog.Default()
}

// Browser returns the agent's browser.
func (a *Agent) Browser() *Browser { return a.browser }

// Client returns the session client sharing the browser's cookies.
func (a *Agent) Client() *sessionclient.Client { return a.client }

// Login opens the login page, submits the form and requires arrival at a portal root
// with a valid session.
func (a *Agent) Login(ctx context.Context, email, password string) error {
	b := a.browser
	if err := b.Goto(ctx, domainauth.LoginPath); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	err := b.SubmitForm(ctx, ByID(loginFormID), map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}
	path := b.URL().Path
	if _, ok := domainauth.PortalForPath(path); !ok {
		return fmt.Errorf("login as %s ended at %s (status %d): %w", email, path, b.Status(), ErrLoginRejected)
	}
	if err := a.expectSession(ctx, email); err != nil {
		return err
	}
	a.logger().InfoContext(ctx, "agent logged in", "email", email, "landing", path)
	return nil
}

// Logout uses the page's logout form when there is one, else the API, and requires the
// session to be gone afterwards.
func (a *Agent) Logout(ctx context.Context) error {
	if _, ok := a.browser.FindForm(ByID(logoutFormID)); ok {
		if err := a.browser.SubmitForm(ctx, ByID(logoutFormID), nil); err != nil {
			return fmt.Errorf("submit logout form: %w", err)
		}
	} else if err := a.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return a.ValidateSessionCleared(ctx)
}

// ExpectPortalAccess opens path and requires it to render without a login redirect or
// an error marker. The route guard for path must agree that the session may see it.
func (a *Agent) ExpectPortalAccess(ctx context.Context, path string) error {
	if err := a.browser.Goto(ctx, path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := a.checkPage(path); err != nil {
		return err
	}
	g := guard.ForPath(a.client, path)
	if g == nil {
		return nil
	}
	if d := g.Navigate(ctx, path); d.State != guard.StateAuthorized {
		if d.Err != nil {
			return fmt.Errorf("open %s: %w: %w", path, ErrGuardDenied, d.Err)
		}
		return fmt.Errorf("open %s: %w", path, ErrGuardDenied)
	}
	return nil
}

func (a *Agent) checkPage(path string) error {
	b := a.browser
	final := b.URL()
	if final.Path == domainauth.LoginPath {
		return fmt.Errorf("open %s: %w", path, ErrRedirectedToLogin)
	}
	if !strings.Contains(final.String(), path) {
		return fmt.Errorf("open %s ended at %s: %w", path, final.Path, ErrWrongLocation)
	}
	if b.Status() >= http.StatusBadRequest {
		return fmt.Errorf("open %s: %w %d", path, ErrUnexpectedStatus, b.Status())
	}
	if m := errorMarker(b.Body()); m != "" {
		return fmt.Errorf("open %s: %w %q", path, ErrErrorMarker, m)
	}
	return nil
}

// ValidateSessionExists requires GET /auth/session to answer 200 with a usable user.
func (a *Agent) ValidateSessionExists(ctx context.Context) error {
	return a.expectSession(ctx, "")
}

var sessionAssertions = []string{
	"type(user.email) == 'string' && length(user.email) > `0`",
	"length(user.roles) > `0`",
	"contains(user.available_portals, active_portal)",
	"user.default_portal != null",
}

func (a *Agent) expectSession(ctx context.Context, email string) error {
	status, doc, err := a.getJSON(ctx, "/auth/session")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("session check: status %d: %w", status, ErrSessionMissing)
	}
	for _, expr := range sessionAssertions {
		if err := assertTrue(expr, doc); err != nil {
			return err
		}
	}
	if email != "" {
		got, err := jmespath.Search("user.email", doc)
		if err != nil {
			return fmt.Errorf("evaluate user.email: %w", err)
		}
		if s, _ := got.(string); !strings.EqualFold(s, email) {
			return fmt.Errorf("session belongs to %v, want %s: %w", got, email, ErrAssertion)
		}
	}
	return nil
}

// ValidateSessionCleared requires GET /auth/session to answer 401.
func (a *Agent) ValidateSessionCleared(ctx context.Context) error {
	status, doc, err := a.getJSON(ctx, "/auth/session")
	if err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return fmt.Errorf("session check: status %d: %w", status, ErrSessionNotCleared)
	}
	return assertTrue("error == 'unauthenticated'", doc)
}

// SwitchPortal moves the signed-in user to portal through the portal switcher, with the
// browser as navigator, and requires the new portal to render.
func (a *Agent) SwitchPortal(ctx context.Context, portal domainauth.Portal) error {
	sess, err := a.client.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("session check: %w", err)
	}
	if !sess.IsAuthenticated {
		return fmt.Errorf("switch portal: %w", ErrSessionMissing)
	}
	sw := portalswitch.New(a.client, a.browser, sess.User, sess.ActivePortal)
	if err := sw.Switch(ctx, portal); err != nil {
		return err
	}
	if a.browser.URL() == nil || sess.ActivePortal == portal {
		return a.ExpectPortalAccess(ctx, portal.RootPath())
	}
	return a.checkPage(portal.RootPath())
}

// TestAllUsers runs the full sign-in cycle for every fixture, each in a fresh browser.
func (a *Agent) TestAllUsers(ctx context.Context, fixtures []Fixture) Report {
	var r Report
	for _, f := range fixtures {
		r.Users = append(r.Users, a.testUser(ctx, f))
	}
	return r
}

func (a *Agent) testUser(ctx context.Context, f Fixture) UserReport {
	rep := UserReport{Email: f.Email}
	agent, err := New(a.cfg)
	if err != nil {
		rep.Steps = append(rep.Steps, Step{Name: "start browser", Err: err})
		return rep
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"login", func() error { return agent.Login(ctx, f.Email, f.Password) }},
		{"landing " + f.Landing, func() error { return agent.checkPage(f.Landing) }},
		{"portal access", func() error { return agent.ExpectPortalAccess(ctx, f.Landing) }},
		{"reload", func() error {
			if err := agent.browser.Reload(ctx); err != nil {
				return err
			}
			if err := agent.checkPage(f.Landing); err != nil {
				return err
			}
			return agent.ValidateSessionExists(ctx)
		}},
	}
	for _, p := range f.Extra {
		steps = append(steps, struct {
			name string
			run  func() error
		}{"access " + p, func() error { return agent.ExpectPortalAccess(ctx, p) }})
	}
	steps = append(steps,
		struct {
			name string
			run  func() error
		}{"logout", func() error { return agent.Logout(ctx) }},
		struct {
			name string
			run  func() error
		}{"protected page after logout", func() error {
			err := agent.ExpectPortalAccess(ctx, f.Landing)
			if errors.Is(err, ErrRedirectedToLogin) {
				return nil
			}
			if err == nil {
				return fmt.Errorf("%s still renders: %w", f.Landing, ErrSessionNotCleared)
			}
			return err
		}},
	)

	for _, s := range steps {
		start := time.Now()
		err := s.run()
		rep.Steps = append(rep.Steps, Step{Name: s.name, Err: err, Duration: time.Since(start)})
		if err != nil {
			a.logger().WarnContext(ctx, "agent step failed", "email", f.Email, "step", s.name, "error", err)
			break
		}
	}
	return rep
}

// HealthCheck verifies the service health endpoint, that an anonymous session check
// answers 401, and that the front page renders cleanly.
func (a *Agent) HealthCheck(ctx context.Context) error {
	fresh, err := New(a.cfg)
	if err != nil {
		return err
	}

	var errs []error
	status, doc, err := fresh.getJSON(ctx, "/health")
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("health: %w", err))
	case status != http.StatusOK:
		errs = append(errs, fmt.Errorf("health: %w %d", ErrUnexpectedStatus, status))
	default:
		if err := assertTrue("status == 'healthy'", doc); err != nil {
			errs = append(errs, fmt.Errorf("health: %w", err))
		}
	}

	if err := fresh.ValidateSessionCleared(ctx); err != nil {
		errs = append(errs, fmt.Errorf("anonymous session: %w", err))
	}

	if err := fresh.browser.Goto(ctx, "/"); err != nil {
		errs = append(errs, fmt.Errorf("front page: %w", err))
	} else if fresh.browser.Status() != http.StatusOK {
		errs = append(errs, fmt.Errorf("front page: %w %d", ErrUnexpectedStatus, fresh.browser.Status()))
	} else if m := errorMarker(fresh.browser.Body()); m != "" {
		errs = append(errs, fmt.Errorf("front page: %w %q", ErrErrorMarker, m))
	}
	return errors.Join(errs...)
}

func (a *Agent) getJSON(ctx context.Context, path string) (int, any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.browser.client.Timeout)
	defer cancel()

	u := a.browser.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.browser.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBody)).Decode(&doc); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, doc, nil
}

func assertTrue(expr string, doc any) error {
	got, err := jmespath.Search(expr, doc)
	if err != nil {
		return fmt.Errorf("evaluate %q: %w", expr, err)
	}
	if ok, _ := got.(bool); !ok {
		return fmt.Errorf("%s: %w", expr, ErrAssertion)
	}
	return nil
}

func errorMarker(body string) string {
	lower := strings.ToLower(body)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}
