package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shipnorth/portal-auth/internal/adapters/jwttoken"
	"github.com/shipnorth/portal-auth/internal/adapters/memstore"
	"github.com/shipnorth/portal-auth/internal/adapters/password"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/mocks"
	mockauth "github.com/shipnorth/portal-auth/internal/mocks/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

// mockSessionStore is a test helper for injecting session store errors.
type mockSessionStore struct {
	saveFunc   func(context.Context, domainauth.Session) error
	getFunc    func(context.Context, string) (domainauth.Session, error)
	deleteFunc func(context.Context, string) error
}

func (m *mockSessionStore) Save(ctx context.Context, sess domainauth.Session) error {
	if m.saveFunc != nil {
		return m.saveFunc(ctx, sess)
	}
	return nil
}

func (m *mockSessionStore) Get(ctx context.Context, id string) (domainauth.Session, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return domainauth.Session{}, ports.ErrNotFound
}

func (m *mockSessionStore) Delete(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

type fixture struct {
	svc      *AuthService
	users    *memstore.UserStore
	sessions *memstore.SessionStore
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	f := &fixture{
		users:    memstore.NewUserStore(),
		sessions: memstore.NewSessionStore(),
		now:      &now,
	}
	clock := func() time.Time { return *f.now }
	tokens, err := jwttoken.New(jwttoken.Options{Secret: "test-secret", Now: clock})
	require.NoError(t, err)

	f.svc = NewAuthService(AuthServiceOptions{
		Users:    f.users,
		Sessions: f.sessions,
		Hasher:   password.Bcrypt{Cost: bcrypt.MinCost},
		Tokens:   tokens,
		TTL:      time.Hour,
		Now:      clock,
	})
	return f
}

func (f *fixture) createUser(t *testing.T, email, pass string, roles ...domainauth.Role) domainauth.User {
	t.Helper()
	u, err := f.svc.CreateUser(context.Background(), CreateUserInput{
		Email:    email,
		Password: pass,
		Roles:    domainauth.RoleStrings(roles),
	})
	require.NoError(t, err)
	return u
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "staff@shipnorth.com", "staff123", domainauth.RoleStaff)

	res, err := f.svc.Login(context.Background(), "  Staff@Shipnorth.com ", "staff123")
	require.NoError(t, err)
	assert.Equal(t, "staff@shipnorth.com", res.User.Email)
	assert.Equal(t, domainauth.PortalStaff, res.Landing())
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, f.now.Add(time.Hour), res.Session.ExpiresAt)
	assert.Equal(t, 1, f.sessions.Len())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "staff@shipnorth.com", "staff123", domainauth.RoleStaff)

	tests := []struct{ name, email, pass string }{
		{"wrong password", "staff@shipnorth.com", "nope"},
		{"unknown email", "ghost@shipnorth.com", "staff123"},
		{"empty email", "", "staff123"},
		{"empty password", "staff@shipnorth.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tt.email, tt.pass)
			require.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
	assert.Equal(t, 0, f.sessions.Len())
}

func TestLogin_DisabledAccount(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "driver@shipnorth.com", "driver123", domainauth.RoleDriver)
	require.NoError(t, f.users.SetDisabled(u.ID, true))

	_, err := f.svc.Login(context.Background(), "driver@shipnorth.com", "driver123")
	require.ErrorIs(t, err, ErrAccountDisabled)

	// A wrong password on a disabled account is still just invalid credentials.
	_, err = f.svc.Login(context.Background(), "driver@shipnorth.com", "bad")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_NoRolesFailsClosed(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "x@shipnorth.com", "pw", domainauth.RoleCustomer)
	require.NoError(t, f.users.SetRoles(u.ID, nil))

	_, err := f.svc.Login(context.Background(), "x@shipnorth.com", "pw")
	require.ErrorIs(t, err, ErrNoPortalAccess)
}

func TestLogin_LandsOnLastUsedPortal(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "multi@shipnorth.com", "pw", domainauth.RoleStaff, domainauth.RoleDriver)
	require.NoError(t, f.users.UpdateLastUsedPortal(context.Background(), u.ID, domainauth.PortalDriver))

	res, err := f.svc.Login(context.Background(), "multi@shipnorth.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, domainauth.PortalDriver, res.Landing())
}

func TestLogin_SessionStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "staff@shipnorth.com", "staff123", domainauth.RoleStaff)

	svc := NewAuthService(AuthServiceOptions{
		Users:  f.users,
		Hasher: password.Bcrypt{Cost: bcrypt.MinCost},
		Sessions: &mockSessionStore{saveFunc: func(context.Context, domainauth.Session) error {
			return errors.New("redis down")
		}},
	})
	_, err := svc.Login(context.Background(), "staff@shipnorth.com", "staff123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save session")
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UserStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	users.EXPECT().GetByEmail(gomock.Any(), "staff@shipnorth.com").Return(domainauth.User{}, errors.New("db down"))

	svc := NewAuthService(AuthServiceOptions{Users: users, Sessions: memstore.NewSessionStore(), Hasher: password.Bcrypt{}})
	_, err := svc.Login(context.Background(), "staff@shipnorth.com", "staff123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestGetSession_Lifecycle(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "admin@shipnorth.com", "admin123", domainauth.RoleStaff, domainauth.RoleAdmin)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "admin@shipnorth.com", "admin123")
	require.NoError(t, err)

	view, err := f.svc.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin@shipnorth.com", view.User.Email)
	assert.True(t, domainauth.HasAdminAccess(view.User.Roles))
	assert.Equal(t, domainauth.PortalStaff, view.Session.ActivePortal)

	require.NoError(t, f.svc.Logout(ctx, res.Session.ID))
	_, err = f.svc.GetSession(ctx, res.Session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// Logout without a live session still succeeds.
	require.NoError(t, f.svc.Logout(ctx, res.Session.ID))
	require.NoError(t, f.svc.Logout(ctx, ""))
}

func TestGetSession_Expired(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "test@test.com", "test123", domainauth.RoleCustomer)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "test@test.com", "test123")
	require.NoError(t, err)

	*f.now = f.now.Add(2 * time.Hour)
	_, err = f.svc.GetSession(ctx, res.Session.ID)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestGetSession_DisabledUserRevokesSession(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "driver@shipnorth.com", "driver123", domainauth.RoleDriver)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "driver@shipnorth.com", "driver123")
	require.NoError(t, err)

	require.NoError(t, f.users.SetDisabled(u.ID, true))
	_, err = f.svc.GetSession(ctx, res.Session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestGetSession_RoleChangeRefreshesActivePortal(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "multi@shipnorth.com", "pw", domainauth.RoleStaff, domainauth.RoleDriver)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "multi@shipnorth.com", "pw")
	require.NoError(t, err)
	require.Equal(t, domainauth.PortalStaff, res.Landing())

	require.NoError(t, f.users.SetRoles(u.ID, []domainauth.Role{domainauth.RoleDriver}))
	view, err := f.svc.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleDriver}, view.User.Roles)
	assert.Equal(t, domainauth.PortalDriver, view.Session.ActivePortal)
}

func TestGetSession_StoreFailureIsNotMissing(t *testing.T) {
	svc := NewAuthService(AuthServiceOptions{
		Users: memstore.NewUserStore(),
		Sessions: &mockSessionStore{getFunc: func(context.Context, string) (domainauth.Session, error) {
			return domainauth.Session{}, errors.New("connection refused")
		}},
	})
	_, err := svc.GetSession(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestGetSession_ExpiredCleanupFailureJoinsErrors(t *testing.T) {
	now := time.Now()
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionStore(ctrl)
	sessions.EXPECT().Get(gomock.Any(), "old").Return(domainauth.Session{ID: "old", ExpiresAt: now.Add(-time.Minute)}, nil)
	sessions.EXPECT().Delete(gomock.Any(), "old").Return(errors.New("redis down"))

	svc := NewAuthService(AuthServiceOptions{Users: memstore.NewUserStore(), Sessions: sessions, Now: func() time.Time { return now }})
	_, err := svc.GetSession(context.Background(), "old")
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Contains(t, err.Error(), "redis down")
}

func TestAuthenticateToken(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "staff@shipnorth.com", "staff123", domainauth.RoleStaff)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "staff@shipnorth.com", "staff123")
	require.NoError(t, err)

	view, err := f.svc.AuthenticateToken(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, view.Session.ID)

	_, err = f.svc.AuthenticateToken(ctx, "garbage")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// Logout revokes the bearer token with the session.
	require.NoError(t, f.svc.Logout(ctx, res.Session.ID))
	_, err = f.svc.AuthenticateToken(ctx, res.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSwitchPortal(t *testing.T) {
	f := newFixture(t)
	u := f.createUser(t, "multi@shipnorth.com", "pw", domainauth.RoleStaff, domainauth.RoleDriver)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "multi@shipnorth.com", "pw")
	require.NoError(t, err)

	view, err := f.svc.SwitchPortal(ctx, res.Session.ID, "driver")
	require.NoError(t, err)
	assert.Equal(t, domainauth.PortalDriver, view.Session.ActivePortal)
	assert.Equal(t, domainauth.PortalDriver, view.User.LastUsedPortal)

	stored, err := f.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domainauth.PortalDriver, stored.LastUsedPortal)

	again, err := f.svc.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domainauth.PortalDriver, again.Session.ActivePortal)

	_, err = f.svc.SwitchPortal(ctx, res.Session.ID, "customer")
	require.ErrorIs(t, err, ErrPortalForbidden)

	_, err = f.svc.SwitchPortal(ctx, res.Session.ID, "moon")
	require.ErrorIs(t, err, ErrInvalidPortal)

	_, err = f.svc.SwitchPortal(ctx, "nope", "staff")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSwitchPortal_UpdateFailureLeavesSession(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "multi@shipnorth.com", "pw", domainauth.RoleStaff, domainauth.RoleDriver)
	ctx := context.Background()
	res, err := f.svc.Login(ctx, "multi@shipnorth.com", "pw")
	require.NoError(t, err)

	stored, err := f.users.GetByEmail(ctx, "multi@shipnorth.com")
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	users.EXPECT().GetByID(gomock.Any(), stored.ID).Return(stored, nil)
	users.EXPECT().UpdateLastUsedPortal(gomock.Any(), stored.ID, domainauth.PortalDriver).Return(errors.New("db down"))

	svc := NewAuthService(AuthServiceOptions{Users: users, Sessions: f.sessions, Now: func() time.Time { return *f.now }})
	_, err = svc.SwitchPortal(ctx, res.Session.ID, "driver")
	require.Error(t, err)

	sess, err := f.sessions.Get(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, domainauth.PortalStaff, sess.ActivePortal)
}

func TestCreateUser_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateUser(context.Background(), CreateUserInput{Email: "a@b.c", Password: "x", Roles: []string{"root"}})
	require.ErrorIs(t, err, ErrNoPortalAccess)

	_, err = f.svc.CreateUser(context.Background(), CreateUserInput{Email: " ", Password: "x", Roles: []string{"staff"}})
	require.Error(t, err)

	f.createUser(t, "a@b.c", "x", domainauth.RoleStaff)
	_, err = f.svc.CreateUser(context.Background(), CreateUserInput{Email: "A@B.C", Password: "x", Roles: []string{"staff"}})
	require.ErrorIs(t, err, ports.ErrConflict)
}

func TestSSO_Disabled(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.svc.SSOEnabled())
	_, err := f.svc.BeginSSOLogin(context.Background(), "/staff")
	require.ErrorIs(t, err, ErrSSODisabled)
	_, err = f.svc.CompleteSSOLogin(context.Background(), CompleteLoginInput{Code: "c", State: "s", Nonce: "n"})
	require.ErrorIs(t, err, ErrSSODisabled)
}

func newSSOService(t *testing.T, provider *mockauth.MockAuthProvider, users *memstore.UserStore) *AuthService {
	t.Helper()
	return NewAuthService(AuthServiceOptions{
		Users:    users,
		Sessions: memstore.NewSessionStore(),
		Hasher:   password.Bcrypt{Cost: bcrypt.MinCost},
		Provider: provider,
		Roles:    mockauth.GroupRoleMapper{"ops": {domainauth.RoleStaff}},
	})
}

func TestSSO_ProvisionsUser(t *testing.T) {
	users := memstore.NewUserStore()
	svc := newSSOService(t, mockauth.NewMockAuthProvider(), users)
	ctx := context.Background()

	begin, err := svc.BeginSSOLogin(ctx, "/staff")
	require.NoError(t, err)
	assert.Equal(t, "state-1", begin.State)

	res, err := svc.CompleteSSOLogin(ctx, CompleteLoginInput{Code: "code", State: begin.State, Nonce: begin.Nonce})
	require.NoError(t, err)
	assert.Equal(t, domainauth.PortalStaff, res.Landing())
	assert.Equal(t, "Mock Staff", res.User.Name)

	stored, err := users.GetByEmail(ctx, "sso.staff@shipnorth.com")
	require.NoError(t, err)
	assert.Equal(t, []domainauth.Role{domainauth.RoleStaff}, stored.Roles)
	assert.Empty(t, stored.PasswordHash)

	// Password login is impossible for an SSO-provisioned account.
	_, err = svc.Login(ctx, "sso.staff@shipnorth.com", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSSO_LinksExistingUserByEmail(t *testing.T) {
	users := memstore.NewUserStore()
	existing, err := users.Create(context.Background(), ports.CreateUserInput{
		Email: "sso.staff@shipnorth.com",
		Roles: []domainauth.Role{domainauth.RoleStaff, domainauth.RoleAdmin},
	})
	require.NoError(t, err)

	svc := newSSOService(t, mockauth.NewMockAuthProvider(), users)
	res, err := svc.CompleteSSOLogin(context.Background(), CompleteLoginInput{Code: "c", State: "s", Nonce: "n"})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.User.ID)
	assert.True(t, domainauth.HasAdminAccess(res.User.Roles))
}

func TestSSO_UnmappedGroupsForbidden(t *testing.T) {
	provider := mockauth.NewMockAuthProvider()
	provider.DefaultUser.Groups = []string{"contractors"}
	svc := newSSOService(t, provider, memstore.NewUserStore())

	_, err := svc.CompleteSSOLogin(context.Background(), CompleteLoginInput{Code: "c", State: "s", Nonce: "n"})
	require.ErrorIs(t, err, ErrNoPortalAccess)
}

func TestSSO_MissingParameters(t *testing.T) {
	svc := newSSOService(t, mockauth.NewMockAuthProvider(), memstore.NewUserStore())
	_, err := svc.CompleteSSOLogin(context.Background(), CompleteLoginInput{State: "s", Nonce: "n"})
	require.Error(t, err)
	_, err = svc.BeginSSOLogin(context.Background(), "")
	require.Error(t, err)
}
