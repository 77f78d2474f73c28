package sessionclient

import (
	"time"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
)

// wireUser is the user object as served. Older payloads carry a single "role".
type wireUser struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Roles          []string `json:"roles"`
	Role           string   `json:"role,omitempty"`
	LastUsedPortal *string  `json:"last_used_portal"`
}

// toUser folds the legacy role into the role set and normalizes it.
func (w wireUser) toUser() domainauth.User {
	roles := w.Roles
	if w.Role != "" {
		roles = append(append([]string(nil), roles...), w.Role)
	}
	u := domainauth.User{
		ID:    w.ID,
		Email: w.Email,
		Name:  w.Name,
		Roles: domainauth.NormalizeRoles(roles),
	}
	if w.LastUsedPortal != nil {
		if p, ok := domainauth.ParsePortal(*w.LastUsedPortal); ok {
			u.LastUsedPortal = p
		}
	}
	return u
}

type sessionBody struct {
	User         wireUser  `json:"user"`
	ActivePortal string    `json:"active_portal"`
	ExpiresAt    time.Time `json:"expires_at"`
}
