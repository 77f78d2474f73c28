package auth

// portalOrder is the fixed evaluation order for AvailablePortals.
var portalOrder = []Portal{PortalCustomer, PortalDriver, PortalStaff} //nolint:gochecknoglobals // read-only ordering

// AllPortals returns every portal in policy order.
func AllPortals() []Portal { return append([]Portal(nil), portalOrder...) }

// CanAccessPortal reports whether any role in roles grants entry to portal.
// Admin is an elevation of staff and grants the staff portal only.
func CanAccessPortal(roles []Role, portal Portal) bool {
	switch portal {
	case PortalCustomer:
		return HasRole(roles, RoleCustomer)
	case PortalDriver:
		return HasRole(roles, RoleDriver)
	case PortalStaff:
		return HasRole(roles, RoleStaff) || HasRole(roles, RoleAdmin)
	case PortalNone:
		return false
	default:
		return false
	}
}

// AvailablePortals returns the enterable portals in the order customer, driver, staff.
func AvailablePortals(roles []Role) []Portal {
	out := make([]Portal, 0, len(portalOrder))
	for _, p := range portalOrder {
		if CanAccessPortal(roles, p) {
			out = append(out, p)
		}
	}
	return out
}

// DefaultPortal picks the landing portal by precedence admin|staff, driver, customer.
// ok is false when roles grant no portal at all.
func DefaultPortal(roles []Role) (Portal, bool) {
	switch {
	case HasRole(roles, RoleAdmin), HasRole(roles, RoleStaff):
		return PortalStaff, true
	case HasRole(roles, RoleDriver):
		return PortalDriver, true
	case HasRole(roles, RoleCustomer):
		return PortalCustomer, true
	default:
		return PortalNone, false
	}
}

// HasAdminAccess reports whether roles carry the admin elevation.
func HasAdminAccess(roles []Role) bool {
	return HasRole(roles, RoleAdmin)
}

// LandingPortal returns the user's sticky last-used portal while it remains enterable,
// falling back to DefaultPortal otherwise.
func LandingPortal(u User) (Portal, bool) {
	if u.LastUsedPortal != PortalNone && CanAccessPortal(u.Roles, u.LastUsedPortal) {
		return u.LastUsedPortal, true
	}
	return DefaultPortal(u.Roles)
}

// HasAnyRole reports whether roles intersect required. An empty required set
// matches any non-empty role set.
func HasAnyRole(roles []Role, required []Role) bool {
	if len(roles) == 0 {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if HasRole(roles, r) {
			return true
		}
	}
	return false
}
