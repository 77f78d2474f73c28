package auth

// Package auth contains domain-level types for authentication, sessions and portal access.
// It is pure and free of framework/adapter concerns.

import (
	"strings"
	"time"
)

// Role represents an authorization role tag a user may hold.
// Keep string form for easy persistence and cookies.
type Role string

const (
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
)

// canonicalRoles is the normalized ordering used whenever a role set is emitted.
var canonicalRoles = []Role{RoleStaff, RoleAdmin, RoleDriver, RoleCustomer} //nolint:gochecknoglobals // read-only ordering

// AllRoles returns every known role in canonical order.
func AllRoles() []Role { return append([]Role(nil), canonicalRoles...) }

// ParseRole converts a raw tag into a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleStaff, RoleAdmin, RoleDriver, RoleCustomer:
		return r, true
	default:
		return "", false
	}
}

// NormalizeRoles deduplicates, drops unknown tags and sorts into canonical order.
// The result may be empty; callers treat an empty set as a contract violation.
func NormalizeRoles(raw []string) []Role {
	seen := make(map[Role]bool, len(raw))
	for _, s := range raw {
		if r, ok := ParseRole(s); ok {
			seen[r] = true
		}
	}
	out := make([]Role, 0, len(seen))
	for _, r := range canonicalRoles {
		if seen[r] {
			out = append(out, r)
		}
	}
	return out
}

// RoleStrings converts roles to their string form.
func RoleStrings(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// HasRole reports whether roles contains r.
func HasRole(roles []Role, r Role) bool {
	for _, have := range roles {
		if have == r {
			return true
		}
	}
	return false
}

// Portal is a role-scoped application area.
type Portal string

const (
	PortalNone     Portal = ""
	PortalCustomer Portal = "customer"
	PortalDriver   Portal = "driver"
	PortalStaff    Portal = "staff"
)

// LoginPath is the unauthenticated fallback location.
const LoginPath = "/login"

// ParsePortal converts a raw value into a Portal.
func ParsePortal(s string) (Portal, bool) {
	p := Portal(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PortalCustomer, PortalDriver, PortalStaff:
		return p, true
	default:
		return PortalNone, false
	}
}

// RootPath returns the navigation root of the portal.
func (p Portal) RootPath() string {
	switch p {
	case PortalStaff:
		return "/staff"
	case PortalDriver:
		return "/driver"
	case PortalCustomer:
		return "/portal"
	case PortalNone:
		return LoginPath
	default:
		return LoginPath
	}
}

// Label returns a human-readable portal name.
func (p Portal) Label() string {
	switch p {
	case PortalStaff:
		return "Staff"
	case PortalDriver:
		return "Driver"
	case PortalCustomer:
		return "Customer"
	case PortalNone:
		return ""
	default:
		return ""
	}
}

// PortalForPath returns the portal owning the given request path.
func PortalForPath(path string) (Portal, bool) {
	for _, p := range portalOrder {
		root := p.RootPath()
		if path == root || strings.HasPrefix(path, root+"/") {
			return p, true
		}
	}
	return PortalNone, false
}

// User is the identity resolved from a valid session.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name,omitempty"`
	Roles          []Role    `json:"roles"`
	LastUsedPortal Portal    `json:"last_used_portal,omitempty"`
	Disabled       bool      `json:"-"`
	PasswordHash   string    `json:"-"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// HasRole reports whether the user holds r.
func (u User) HasRole(r Role) bool { return HasRole(u.Roles, r) }

// Session is the server-side record we persist for an authenticated user.
// ID is an opaque session identifier carried by the HTTP-only cookie.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Roles        []Role    `json:"roles"`
	ActivePortal Portal    `json:"active_portal,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Identity represents the authenticated principal returned by an SSO IdP.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
	Groups    []string
	ExpiresAt time.Time
}
