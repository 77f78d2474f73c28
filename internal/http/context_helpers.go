package httpx

import (
	"context"

	"github.com/shipnorth/portal-auth/internal/service"
)

// sessionKey is an unexported context key type to avoid collisions across packages.
type sessionKey struct{}

// SetSessionInContext returns a child context that carries the given session.
// If view is nil, the original ctx is returned unchanged.
func SetSessionInContext(ctx context.Context, view *service.SessionView) context.Context {
	if view == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, view)
}

// GetSessionFromContext returns the session placed by the guard middleware and a
// boolean indicating presence.
func GetSessionFromContext(ctx context.Context) (*service.SessionView, bool) {
	if view, ok := ctx.Value(sessionKey{}).(*service.SessionView); ok && view != nil {
		return view, true
	}
	return nil, false
}

type requestIDKey struct{}

// RequestIDFromContext returns the request id assigned by the RequestID middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
