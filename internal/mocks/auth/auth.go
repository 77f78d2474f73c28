package auth

// Package auth contains simple hand-written test doubles for the SSO ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthProvider = (*MockAuthProvider)(nil)
	_ ports.RoleMapper   = GroupRoleMapper(nil)
)

// MockAuthProvider simulates an IdP with deterministic state/nonce values.
type MockAuthProvider struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (authURL, state, nonce string, err error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error)

	AuthURL     string
	DefaultUser domainauth.Identity

	mu        sync.Mutex
	callCount int
}

// NewMockAuthProvider creates a MockAuthProvider returning a staff identity.
func NewMockAuthProvider() *MockAuthProvider {
	return &MockAuthProvider{
		AuthURL: "https://mock-idp/auth",
		DefaultUser: domainauth.Identity{
			Subject:   "mock-user-1",
			FirstName: "Mock",
			LastName:  "Staff",
			Email:     "sso.staff@shipnorth.com",
			Groups:    []string{"ops"},
		},
	}
}

func (m *MockAuthProvider) Begin(ctx context.Context, in ports.BeginInput) (string, string, string, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()
	return m.AuthURL, fmt.Sprintf("state-%d", n), fmt.Sprintf("nonce-%d", n), nil
}

func (m *MockAuthProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}
	ident := m.DefaultUser
	ident.ExpiresAt = time.Now().Add(time.Hour)
	return ident, nil
}

// GroupRoleMapper maps each group name straight to the listed roles.
type GroupRoleMapper map[string][]domainauth.Role

func (g GroupRoleMapper) Map(groups []string) []domainauth.Role {
	var out []string
	for _, grp := range groups {
		out = append(out, domainauth.RoleStrings(g[grp])...)
	}
	return domainauth.NormalizeRoles(out)
}
