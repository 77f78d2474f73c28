package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ids"
	"github.com/shipnorth/portal-auth/internal/observability/metrics"
	"github.com/shipnorth/portal-auth/internal/service"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// RequestID returns a middleware that assigns every request an id, reusing a sane
// inbound X-Request-Id when present.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !validRequestID(id) {
				id = ids.New()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if !(c == '-' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// Logging returns a middleware that logs HTTP requests and responses.
// Query strings are not logged since they may carry redirect targets or codes.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", RequestIDFromContext(r.Context())),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.ErrorContext(r.Context(), "panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("request_id", RequestIDFromContext(r.Context())),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SessionResolver resolves the session carried by a request.
type SessionResolver interface {
	ResolveRequest(r *http.Request) (*service.SessionView, error)
	RecordGuard(scope, result string)
}

// RequirePortal returns a middleware admitting only sessions whose roles grant portal.
// Browser requests without access are redirected to the login page with the attempted
// path; API requests get 401 or 403. Store failures are treated as no session.
func RequirePortal(res SessionResolver, portal domainauth.Portal) func(http.Handler) http.Handler {
	return requireAccess(res, string(portal), func(roles []domainauth.Role) bool {
		return domainauth.CanAccessPortal(roles, portal)
	})
}

// RequireRoles returns a middleware admitting sessions holding any of roles.
// With no roles every authenticated session is admitted.
func RequireRoles(res SessionResolver, roles ...domainauth.Role) func(http.Handler) http.Handler {
	scope := "any"
	if len(roles) > 0 {
		scope = strings.Join(domainauth.RoleStrings(roles), "|")
	}
	return requireAccess(res, scope, func(have []domainauth.Role) bool {
		return domainauth.HasAnyRole(have, roles)
	})
}

func requireAccess(res SessionResolver, scope string, allowed func([]domainauth.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			view, err := res.ResolveRequest(r)
			if err != nil {
				result := metrics.ResultMissing
				if !isUnauthenticated(err) {
					result = metrics.ResultInfra
					slog.Default().WarnContext(r.Context(), "session lookup failed; denying access",
						"path", r.URL.Path, "error", err)
				}
				res.RecordGuard(scope, result)
				denyUnauthenticated(w, r)
				return
			}

			if !allowed(view.User.Roles) {
				res.RecordGuard(scope, metrics.ResultForbidden)
				if IsBrowserRequest(r) {
					redirectToLogin(w, r)
					return
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "insufficient_permissions",
					Err:     errors.New("insufficient permissions"),
				})
				return
			}

			res.RecordGuard(scope, metrics.ResultSuccess)
			next.ServeHTTP(w, r.WithContext(SetSessionInContext(r.Context(), view)))
		})
	}
}

func denyUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if IsBrowserRequest(r) {
		redirectToLogin(w, r)
		return
	}
	WriteError(w, ErrorParams{
		Code:    http.StatusUnauthorized,
		ErrCode: "authentication_required",
		Err:     errors.New("authentication required"),
	})
}

// browserRequestKey is an unexported context key type for browser request detection.
type browserRequestKey struct{}

// BrowserDetection returns a middleware that detects browser requests vs API requests.
// It sets a context value that can be used by downstream handlers to determine
// whether to redirect or return JSON.
func BrowserDetection() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), browserRequestKey{}, isBrowserRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsBrowserRequest returns true if the current request is from a browser.
func IsBrowserRequest(r *http.Request) bool {
	if val := r.Context().Value(browserRequestKey{}); val != nil {
		if isBrowser, ok := val.(bool); ok {
			return isBrowser
		}
	}
	// Fallback to direct detection if middleware wasn't used
	return isBrowserRequest(r)
}

// isBrowserRequest determines if a request is from a browser: API paths never are,
// otherwise an HTML-accepting (or absent) Accept header decides.
func isBrowserRequest(r *http.Request) bool {
	for _, prefix := range []string{"/auth/", "/health", "/metrics"} {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return false
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	return strings.Contains(accept, "text/html")
}

// redirectToLogin sends the browser to the login page with the attempted path.
func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, LoginURL(r.URL.RequestURI()), http.StatusSeeOther)
}

// LoginURL returns the login page URL that returns to attempted after sign-in.
func LoginURL(attempted string) string {
	return domainauth.LoginURL(attempted)
}
