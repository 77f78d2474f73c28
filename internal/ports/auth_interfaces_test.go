package ports_test

import (
	"testing"

	"github.com/shipnorth/portal-auth/internal/adapters/memstore"
	"github.com/shipnorth/portal-auth/internal/mocks"
	mockauth "github.com/shipnorth/portal-auth/internal/mocks/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
)

// This test only verifies that our doubles conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.AuthProvider = (*mockauth.MockAuthProvider)(nil)
	var _ ports.RoleMapper = mockauth.GroupRoleMapper(nil)
	var _ ports.UserStore = (*mocks.MockUserStore)(nil)
	var _ ports.SessionStore = (*mocks.MockSessionStore)(nil)
	var _ ports.UserStore = (*memstore.UserStore)(nil)
	var _ ports.SessionStore = (*memstore.SessionStore)(nil)
}
