package authroles

import (
	"strings"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
)

var _ ports.RoleMapper = StaticRoleMapper{}

// StaticRoleMapper grants each role whose configured group appears in the IdP groups.
// Group comparison is case-insensitive; unmapped groups grant nothing.
type StaticRoleMapper struct {
	Groups map[domainauth.Role][]string
}

// ParseGroupMap reads "role=groupA|groupB,role2=groupC". Unknown roles are ignored.
func ParseGroupMap(mapping string) StaticRoleMapper {
	m := StaticRoleMapper{Groups: make(map[domainauth.Role][]string)}
	for _, pair := range strings.Split(mapping, ",") {
		roleStr, groups, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		role, known := domainauth.ParseRole(roleStr)
		if !known {
			continue
		}
		for _, g := range strings.Split(groups, "|") {
			if g = strings.TrimSpace(g); g != "" {
				m.Groups[role] = append(m.Groups[role], g)
			}
		}
	}
	return m
}

func (m StaticRoleMapper) Map(groups []string) []domainauth.Role {
	have := make(map[string]bool, len(groups))
	for _, g := range groups {
		have[strings.ToLower(strings.TrimSpace(g))] = true
	}

	var granted []string
	for role, wanted := range m.Groups {
		for _, g := range wanted {
			if have[strings.ToLower(g)] {
				granted = append(granted, string(role))
				break
			}
		}
	}
	return domainauth.NormalizeRoles(granted)
}
