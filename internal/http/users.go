package httpx

import (
	"strings"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
)

// AdminPath is the admin-only area inside the staff portal.
const AdminPath = "/staff/admin"

// userResponse is the wire form of a user. The password hash never leaves the service.
type userResponse struct {
	ID               string              `json:"id"`
	Email            string              `json:"email"`
	Name             string              `json:"name"`
	Roles            []domainauth.Role   `json:"roles"`
	LastUsedPortal   *domainauth.Portal  `json:"last_used_portal"`
	DefaultPortal    domainauth.Portal   `json:"default_portal"`
	AvailablePortals []domainauth.Portal `json:"available_portals"`
	HasAdminAccess   bool                `json:"has_admin_access"`
}

func newUserResponse(u domainauth.User) userResponse {
	roles := u.Roles
	if roles == nil {
		roles = []domainauth.Role{}
	}
	resp := userResponse{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Roles:            roles,
		AvailablePortals: domainauth.AvailablePortals(roles),
		HasAdminAccess:   domainauth.HasAdminAccess(roles),
	}
	if resp.AvailablePortals == nil {
		resp.AvailablePortals = []domainauth.Portal{}
	}
	resp.DefaultPortal, _ = domainauth.DefaultPortal(roles)
	if u.LastUsedPortal != domainauth.PortalNone {
		p := u.LastUsedPortal
		resp.LastUsedPortal = &p
	}
	return resp
}

// canEnterPath applies the portal policy to a request path. The admin area needs the
// admin role; other portal paths need access to the owning portal. Paths outside any
// portal are open to every authenticated user.
func canEnterPath(roles []domainauth.Role, path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == AdminPath || strings.HasPrefix(path, AdminPath+"/") {
		return domainauth.HasRole(roles, domainauth.RoleAdmin)
	}
	if p, ok := domainauth.PortalForPath(path); ok {
		return domainauth.CanAccessPortal(roles, p)
	}
	return true
}
