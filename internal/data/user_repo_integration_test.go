package data

import (
	"context"
	"testing"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
	"github.com/shipnorth/portal-auth/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepo_Integration(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	repo := NewUserRepo(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, ports.CreateUserInput{
		Email:        "Admin@Shipnorth.com",
		Name:         "Admin",
		PasswordHash: "hash",
		Roles:        []domainauth.Role{domainauth.RoleAdmin, domainauth.RoleStaff},
	})
	require.NoError(t, err)

	got, err := repo.GetByEmail(ctx, "admin@SHIPNORTH.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, []domainauth.Role{domainauth.RoleStaff, domainauth.RoleAdmin}, got.Roles)

	require.NoError(t, repo.UpdateLastUsedPortal(ctx, created.ID, domainauth.PortalStaff))
	got, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domainauth.PortalStaff, got.LastUsedPortal)

	_, err = repo.Create(ctx, ports.CreateUserInput{Email: "admin@shipnorth.com", Roles: []domainauth.Role{domainauth.RoleStaff}})
	require.ErrorIs(t, err, ports.ErrConflict)

	require.NoError(t, repo.SetDisabled(ctx, created.ID, true))
	got, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Disabled)
}
