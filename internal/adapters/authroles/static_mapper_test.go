package authroles

import (
	"testing"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/stretchr/testify/assert"
)

func TestParseGroupMap(t *testing.T) {
	m := ParseGroupMap("staff=ops|dispatch, admin=it-admins ,bogus=x,driver=")
	assert.Equal(t, []string{"ops", "dispatch"}, m.Groups[domainauth.RoleStaff])
	assert.Equal(t, []string{"it-admins"}, m.Groups[domainauth.RoleAdmin])
	assert.NotContains(t, m.Groups, domainauth.RoleDriver)
	assert.Len(t, m.Groups, 2)
}

func TestStaticRoleMapper_Map(t *testing.T) {
	m := ParseGroupMap("staff=ops,admin=IT-Admins,driver=fleet")

	assert.Equal(t,
		[]domainauth.Role{domainauth.RoleStaff, domainauth.RoleAdmin},
		m.Map([]string{"it-admins", "ops", "unrelated"}))
	assert.Equal(t, []domainauth.Role{domainauth.RoleDriver}, m.Map([]string{"fleet"}))
	assert.Empty(t, m.Map([]string{"nobody"}))
	assert.Empty(t, m.Map(nil))
}
