package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/observability/metrics"
	"github.com/shipnorth/portal-auth/internal/service"
)

// DefaultSessionCookie is the cookie carrying the session id.
const DefaultSessionCookie = "session_id"

// AuthServiceInterface defines the auth service operations used by the handlers.
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	GetSession(ctx context.Context, sessionID string) (*service.SessionView, error)
	AuthenticateToken(ctx context.Context, token string) (*service.SessionView, error)
	Logout(ctx context.Context, sessionID string) error
	SwitchPortal(ctx context.Context, sessionID, target string) (*service.SessionView, error)
	SSOEnabled() bool
	BeginSSOLogin(ctx context.Context, redirectURL string) (*service.BeginLoginResult, error)
	CompleteSSOLogin(ctx context.Context, input service.CompleteLoginInput) (*service.LoginResult, error)
}

// AuthHandlers provides HTTP handlers for authentication and the portal pages.
type AuthHandlers struct {
	Svc          AuthServiceInterface
	CookieName   string
	CookieDomain string
	Pages        *TemplateRenderer // optional; HTML routes are not registered when nil
	Metrics      *metrics.Auth     // optional
	Logger       *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) cookieName() string {
	if h.CookieName != "" {
		return h.CookieName
	}
	return DefaultSessionCookie
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

type loginResponse struct {
	User       userResponse `json:"user"`
	Token      string       `json:"token,omitempty"`
	RedirectTo string       `json:"redirect_to"`
}

// Login verifies credentials and starts a session.
// POST /auth/login {email, password}.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_request",
			Err:     errors.New("email and password are required"),
		})
		return
	}

	res, err := h.Svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}

	h.setSessionCookie(w, r, res.Session)
	WriteJSON(w, http.StatusOK, loginResponse{
		User:       newUserResponse(res.User),
		Token:      res.Token,
		RedirectTo: postLoginTarget(res.User, res.Landing(), req.RedirectURI),
	})
}

func (h *AuthHandlers) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		WriteError(w, ErrorParams{Code: http.StatusUnauthorized, ErrCode: "invalid_credentials", Err: err})
	case errors.Is(err, service.ErrAccountDisabled):
		WriteError(w, ErrorParams{Code: http.StatusForbidden, ErrCode: "account_disabled", Err: err})
	case errors.Is(err, service.ErrNoPortalAccess):
		WriteError(w, ErrorParams{Code: http.StatusForbidden, ErrCode: "no_portal_access", Err: err})
	default:
		h.logger().ErrorContext(r.Context(), "login failed", "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "login_failed",
			Err:     errors.New("login is temporarily unavailable"),
		})
	}
}

// Logout destroys the session, if any, and clears the cookie. Always succeeds.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.endSession(w, r)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *AuthHandlers) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionIDFromCookie(r)
	if sessionID == "" {
		if view, err := h.authenticateBearer(r); err == nil {
			sessionID = view.Session.ID
		}
	}
	if sessionID != "" {
		if err := h.Svc.Logout(r.Context(), sessionID); err != nil {
			h.logger().WarnContext(r.Context(), "logout failed", "error", err)
		}
	}
	h.clearCookie(w, r, h.cookieName())
}

type sessionResponse struct {
	User         userResponse      `json:"user"`
	ActivePortal domainauth.Portal `json:"active_portal"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// Session reports the current session.
// GET /auth/session answers 200 with the user, or 401 when there is no valid session.
func (h *AuthHandlers) Session(w http.ResponseWriter, r *http.Request) {
	view, err := h.ResolveRequest(r)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionResponse{
		User:         newUserResponse(view.User),
		ActivePortal: view.Session.ActivePortal,
		ExpiresAt:    view.Session.ExpiresAt,
	})
}

func (h *AuthHandlers) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if isUnauthenticated(err) {
		if h.sessionIDFromCookie(r) != "" {
			h.clearCookie(w, r, h.cookieName())
		}
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "unauthenticated",
			Err:     errors.New("no valid session"),
		})
		return
	}
	h.logger().ErrorContext(r.Context(), "session lookup failed", "error", err)
	WriteError(w, ErrorParams{
		Code:    http.StatusServiceUnavailable,
		ErrCode: "session_unavailable",
		Err:     errors.New("session store unavailable"),
	})
}

type switchPortalRequest struct {
	Portal string `json:"portal"`
}

type switchPortalResponse struct {
	User       userResponse `json:"user"`
	RedirectTo string       `json:"redirect_to"`
}

// SwitchPortal changes the session's active portal.
// POST /auth/switch-portal {portal}.
func (h *AuthHandlers) SwitchPortal(w http.ResponseWriter, r *http.Request) {
	var req switchPortalRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	sessionID, err := h.requestSessionID(r)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	view, err := h.Svc.SwitchPortal(r.Context(), sessionID, req.Portal)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPortal):
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_portal", Err: err})
		case errors.Is(err, service.ErrPortalForbidden):
			WriteError(w, ErrorParams{Code: http.StatusForbidden, ErrCode: "portal_forbidden", Err: err})
		default:
			h.writeSessionError(w, r, err)
		}
		return
	}

	WriteJSON(w, http.StatusOK, switchPortalResponse{
		User:       newUserResponse(view.User),
		RedirectTo: view.Session.ActivePortal.RootPath(),
	})
}

// SSOLogin starts the single sign-on flow.
// GET /auth/sso/login?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) SSOLogin(w http.ResponseWriter, r *http.Request) {
	if !h.Svc.SSOEnabled() {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "sso_disabled",
			Err:     service.ErrSSODisabled,
		})
		return
	}

	redirectURI := safeRedirectPath(r.URL.Query().Get("redirect_uri"))

	result, err := h.Svc.BeginSSOLogin(r.Context(), redirectURI)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "begin sso login failed", "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "login_failed",
			Err:     errors.New("single sign-on is temporarily unavailable"),
		})
		return
	}

	h.setOAuthCookies(w, r, oauthCookieParams{State: result.State, Nonce: result.Nonce, RedirectURI: redirectURI})
	http.Redirect(w, r, result.AuthURL, http.StatusFound)
}

// SSOCallback completes the single sign-on flow.
// GET /auth/sso/callback?code=<code>&state=<state>.
func (h *AuthHandlers) SSOCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_parameters",
			Err:     errors.New("code and state are required"),
		})
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value != state {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_state",
			Err:     errors.New("invalid or missing state parameter"),
		})
		return
	}
	nonceCookie, err := r.Cookie("oauth_nonce")
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_nonce",
			Err:     errors.New("missing nonce parameter"),
		})
		return
	}

	result, err := h.Svc.CompleteSSOLogin(r.Context(), service.CompleteLoginInput{
		Code:  code,
		State: state,
		Nonce: nonceCookie.Value,
	})
	if err != nil {
		if errors.Is(err, service.ErrAccountDisabled) || errors.Is(err, service.ErrNoPortalAccess) {
			WriteError(w, ErrorParams{Code: http.StatusForbidden, ErrCode: "access_denied", Err: err})
			return
		}
		h.logger().WarnContext(r.Context(), "sso login failed", "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "login_completion_failed",
			Err:     errors.New("single sign-on could not be completed"),
		})
		return
	}

	h.setSessionCookie(w, r, result.Session)
	h.clearCookie(w, r, "oauth_state")
	h.clearCookie(w, r, "oauth_nonce")

	requested := h.popPostLoginRedirect(w, r)
	http.Redirect(w, r, postLoginTarget(result.User, result.Landing(), requested), http.StatusFound)
}

// ResolveRequest returns the live session named by the cookie, or by a bearer token
// when no cookie is present.
func (h *AuthHandlers) ResolveRequest(r *http.Request) (*service.SessionView, error) {
	if sessionID := h.sessionIDFromCookie(r); sessionID != "" {
		return h.Svc.GetSession(r.Context(), sessionID)
	}
	return h.authenticateBearer(r)
}

// RecordGuard counts a server-side guard decision.
func (h *AuthHandlers) RecordGuard(scope, result string) {
	h.Metrics.GuardDecision(scope, result)
}

func (h *AuthHandlers) authenticateBearer(r *http.Request) (*service.SessionView, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, service.ErrSessionNotFound
	}
	return h.Svc.AuthenticateToken(r.Context(), token)
}

// requestSessionID returns the session id for write operations.
func (h *AuthHandlers) requestSessionID(r *http.Request) (string, error) {
	if sessionID := h.sessionIDFromCookie(r); sessionID != "" {
		return sessionID, nil
	}
	view, err := h.authenticateBearer(r)
	if err != nil {
		return "", err
	}
	return view.Session.ID, nil
}

func (h *AuthHandlers) sessionIDFromCookie(r *http.Request) string {
	c, err := r.Cookie(h.cookieName())
	if err != nil {
		return ""
	}
	return c.Value
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "bearer "
	v := r.Header.Get("Authorization")
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(v[len(prefix):])
	return token, token != ""
}

func isUnauthenticated(err error) bool {
	return errors.Is(err, service.ErrSessionNotFound) || errors.Is(err, service.ErrSessionExpired)
}

func isSecureRequest(r *http.Request) bool {
	return r.TLS != nil || isForwardedHTTPS(r)
}

// clearCookie clears a cookie by setting it to expire immediately.
// It mirrors key attributes (Secure, Path, Domain, SameSite) used when setting cookies
// to maximize compatibility across browsers during deletion.
func (h *AuthHandlers) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}

// oauthCookieParams groups values needed to set OAuth cookies.
type oauthCookieParams struct {
	State       string
	Nonce       string
	RedirectURI string
}

// setOAuthCookies stores OAuth state, nonce, and the post-login redirect in short-lived cookies.
func (h *AuthHandlers) setOAuthCookies(w http.ResponseWriter, r *http.Request, p oauthCookieParams) {
	for name, value := range map[string]string{
		"oauth_state":         p.State,
		"oauth_nonce":         p.Nonce,
		"post_login_redirect": p.RedirectURI,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			Domain:   h.CookieDomain,
			HttpOnly: true,
			Secure:   isSecureRequest(r),
			SameSite: http.SameSiteLaxMode,
			MaxAge:   600, // 10 minutes
		})
	}
}

// setSessionCookie writes the session cookie based on the session's expiry.
func (h *AuthHandlers) setSessionCookie(w http.ResponseWriter, r *http.Request, s domainauth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    s.ID,
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(time.Until(s.ExpiresAt).Seconds()),
	})
}

// popPostLoginRedirect returns the stored post-login redirect and clears the cookie.
func (h *AuthHandlers) popPostLoginRedirect(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie("post_login_redirect")
	if err != nil {
		return ""
	}
	h.clearCookie(w, r, "post_login_redirect")
	return c.Value
}

// postLoginTarget returns requested when it is a safe path the user may enter,
// otherwise the root of the landing portal.
func postLoginTarget(u domainauth.User, landing domainauth.Portal, requested string) string {
	if requested != "" {
		if p := safeRedirectPath(requested); p != "/" && canEnterPath(u.Roles, p) {
			return p
		}
	}
	return landing.RootPath()
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	return domainauth.SafeRedirectPath(candidate)
}
