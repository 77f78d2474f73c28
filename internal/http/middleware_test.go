package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(RequestIDHeader, "edge-42_a")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "edge-42_a", seen)

	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(RequestIDHeader, "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "<script>", seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestRecover(t *testing.T) {
	h := Recover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIsBrowserRequest(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   bool
	}{
		{"html accept", "/staff", map[string]string{"Accept": "text/html,application/xhtml+xml"}, true},
		{"no accept", "/staff", nil, true},
		{"json accept", "/staff", map[string]string{"Accept": "application/json"}, false},
		{"xhr", "/staff", map[string]string{"Accept": "text/html", "X-Requested-With": "XMLHttpRequest"}, false},
		{"auth api", "/auth/session", map[string]string{"Accept": "text/html"}, false},
		{"health", "/health", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, IsBrowserRequest(req))
		})
	}
}

func TestLoginURL(t *testing.T) {
	assert.Equal(t, "/login?redirect_uri=%2Fstaff", LoginURL("/staff"))
	assert.Equal(t, "/login?redirect_uri=%2Fdriver%3Fday%3D2", LoginURL("/driver?day=2"))
	assert.Equal(t, "/login?redirect_uri=%2F", LoginURL("//evil.example"))
}

func TestCanEnterPath(t *testing.T) {
	staff := []domainauth.Role{domainauth.RoleStaff}
	admin := []domainauth.Role{domainauth.RoleAdmin}
	customer := []domainauth.Role{domainauth.RoleCustomer}

	assert.True(t, canEnterPath(staff, "/staff"))
	assert.True(t, canEnterPath(staff, "/staff/reports?x=1"))
	assert.False(t, canEnterPath(staff, "/staff/admin"))
	assert.False(t, canEnterPath(staff, "/staff/admin?tab=users"))
	assert.True(t, canEnterPath(admin, "/staff/admin/users"))
	assert.True(t, canEnterPath(admin, "/staff"))
	assert.False(t, canEnterPath(admin, "/driver"))
	assert.True(t, canEnterPath(customer, "/portal#orders"))
	assert.True(t, canEnterPath(customer, "/staffing"), "unrelated prefix is not a portal path")
	assert.True(t, canEnterPath(customer, "/help"))
}

func TestLoginRateLimiter(t *testing.T) {
	l := NewLoginRateLimiter(60, 2, nil)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "buckets are per address")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "one token refills per second at 60/min")

	now = now.Add(limiterIdleTTL + time.Minute)
	l.Allow("10.0.0.3")
	l.mu.Lock()
	assert.NotContains(t, l.buckets, "10.0.0.2", "idle buckets are swept")
	l.mu.Unlock()

	var nilLimiter *LoginRateLimiter
	assert.True(t, nilLimiter.Allow("10.0.0.1"))
	assert.Nil(t, NewLoginRateLimiter(0, 5, nil))
}

func TestLoginRateLimit_Router(t *testing.T) {
	env := newTestEnv(t, withLimiter(NewLoginRateLimiter(1, 2, nil)))

	for i := range 2 {
		rec := env.do(jsonRequest(t, http.MethodPost, "/auth/login",
			loginRequest{Email: "staff@shipnorth.com", Password: "wrong"}))
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
	}
	rec := env.do(jsonRequest(t, http.MethodPost, "/auth/login",
		loginRequest{Email: "staff@shipnorth.com", Password: "staff123"}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[errorBody](t, rec).Error)

	// The session endpoint is not throttled.
	rec = env.do(jsonRequest(t, http.MethodGet, "/auth/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCSRFToken_LettersOnly(t *testing.T) {
	tok, err := generateCSRFToken(DefaultCSRFTokenLength)
	require.NoError(t, err)
	assert.Len(t, tok, 2*DefaultCSRFTokenLength)
	for _, c := range tok {
		assert.True(t, c >= 'a' && c <= 'p', "unexpected %q", c)
	}
}

func TestCSRFProtection(t *testing.T) {
	h := CSRFProtection(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", http.NoBody))
	require.Equal(t, http.StatusNoContent, rec.Code)
	cookie := cookieNamed(rec, DefaultCSRFCookieName)
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodPost, "/logout", http.NoBody)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/logout", http.NoBody)
	req.AddCookie(cookie)
	req.Header.Set(DefaultCSRFHeaderName, cookie.Value)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, cookieNamed(rec, DefaultCSRFCookieName), "existing token is reused")

	req = httptest.NewRequest(http.MethodPost, "/logout", http.NoBody)
	req.AddCookie(cookie)
	req.Header.Set(DefaultCSRFHeaderName, "forged")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
