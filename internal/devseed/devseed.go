// Package devseed creates the demo accounts used in development and by the auth agent.
package devseed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/ports"
	"github.com/shipnorth/portal-auth/internal/service"
)

// Account is one demo login.
type Account struct {
	Email    string
	Password string
	Name     string
	Roles    []string
	// Landing is the portal root the account opens after login.
	Landing string
}

// UserCreator is the subset of AuthService needed for seeding.
type UserCreator interface {
	CreateUser(ctx context.Context, in service.CreateUserInput) (domainauth.User, error)
}

// DemoAccounts returns the four canonical demo logins.
func DemoAccounts() []Account {
	return []Account{
		{Email: "staff@shipnorth.com", Password: "staff123", Name: "Sam Staff", Roles: []string{"staff"}, Landing: "/staff"},
		{Email: "driver@shipnorth.com", Password: "driver123", Name: "Dana Driver", Roles: []string{"driver"}, Landing: "/driver"},
		{Email: "admin@shipnorth.com", Password: "admin123", Name: "Alex Admin", Roles: []string{"admin"}, Landing: "/staff"},
		{Email: "test@test.com", Password: "test123", Name: "Casey Customer", Roles: []string{"customer"}, Landing: "/portal"},
	}
}

// Run creates every demo account that does not exist yet.
func Run(ctx context.Context, users UserCreator, logger *slog.Logger) error {
	return Seed(ctx, users, DemoAccounts(), logger)
}

// Seed creates the given accounts, skipping ones already present.
func Seed(ctx context.Context, users UserCreator, accounts []Account, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	failures := 0
	for _, acct := range accounts {
		created, err := createAccount(ctx, users, acct)
		if err != nil {
			logger.ErrorContext(ctx, "failed to create demo account", "email", acct.Email, "error", err)
			failures++
			continue
		}
		msg := "demo account already exists"
		if created {
			msg = "created demo account"
		}
		logger.InfoContext(ctx, msg, "email", acct.Email, "roles", acct.Roles)
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func createAccount(ctx context.Context, users UserCreator, acct Account) (bool, error) {
	_, err := users.CreateUser(ctx, service.CreateUserInput{
		Email:    acct.Email,
		Name:     acct.Name,
		Password: acct.Password,
		Roles:    acct.Roles,
	})
	if err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
