// Package data contains the Postgres repositories.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shipnorth/portal-auth/internal/data/pgxutil"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	apperrors "github.com/shipnorth/portal-auth/internal/errors"
	"github.com/shipnorth/portal-auth/internal/ports"
)

var _ ports.UserStore = (*UserRepo)(nil)

const selectUser = `
	SELECT u.id, u.email, u.name, u.password_hash, u.last_used_portal, u.disabled,
	       u.created_at, u.updated_at,
	       COALESCE(string_agg(r.role, ',' ORDER BY r.role), '') AS roles
	FROM users u
	LEFT JOIN user_roles r ON r.user_id = u.id
`

// UserRepo stores accounts in the users and user_roles tables.
type UserRepo struct {
	DB  *sql.DB
	now func() time.Time
}

// NewUserRepo creates a UserRepo on db.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db, now: time.Now}
}

// NewUserRepoWithClock creates a UserRepo with a custom clock (useful for testing).
func NewUserRepoWithClock(db *sql.DB, now func() time.Time) *UserRepo {
	return &UserRepo{DB: db, now: now}
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (domainauth.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domainauth.User{}, ports.ErrNotFound
	}
	q := selectUser + `WHERE lower(u.email) = lower($1) GROUP BY u.id`
	return r.getOne(ctx, q, email)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (domainauth.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domainauth.User{}, ports.ErrNotFound
	}
	q := selectUser + `WHERE u.id = $1 GROUP BY u.id`
	return r.getOne(ctx, q, id)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (domainauth.User, error) {
	var (
		u        domainauth.User
		portal   string
		rolesCSV string
	)
	err := r.DB.QueryRowContext(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &portal, &u.Disabled,
		&u.CreatedAt, &u.UpdatedAt, &rolesCSV,
	)
	if err != nil {
		return domainauth.User{}, mapUserErr("get user", err)
	}
	u.LastUsedPortal, _ = domainauth.ParsePortal(portal)
	if rolesCSV != "" {
		u.Roles = domainauth.NormalizeRoles(strings.Split(rolesCSV, ","))
	}
	return u, nil
}

// Create inserts the account and its role rows in one transaction.
func (r *UserRepo) Create(ctx context.Context, in ports.CreateUserInput) (domainauth.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return domainauth.User{}, apperrors.Wrap(errors.New("email is required"), apperrors.ErrCodeValidation, "invalid user")
	}

	now := r.now().UTC()
	u := domainauth.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         in.Name,
		Roles:        domainauth.NormalizeRoles(domainauth.RoleStrings(in.Roles)),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := pgxutil.WithSQLTx(ctx, r.DB, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)`,
			u.ID, u.Email, u.Name, u.PasswordHash, now,
		); err != nil {
			return err
		}
		for _, role := range u.Roles {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, u.ID, string(role),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domainauth.User{}, mapUserErr("create user", err)
	}
	return u, nil
}

func (r *UserRepo) UpdateLastUsedPortal(ctx context.Context, id string, portal domainauth.Portal) error {
	return r.updateOne(ctx, "update last used portal",
		`UPDATE users SET last_used_portal = $2, updated_at = $3 WHERE id = $1`,
		id, string(portal), r.now().UTC())
}

// SetDisabled toggles the disabled flag on an account.
func (r *UserRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return r.updateOne(ctx, "set disabled",
		`UPDATE users SET disabled = $2, updated_at = $3 WHERE id = $1`,
		id, disabled, r.now().UTC())
}

func (r *UserRepo) updateOne(ctx context.Context, op, q string, id string, args ...any) error {
	if _, err := uuid.Parse(id); err != nil {
		return ports.ErrNotFound
	}
	res, err := r.DB.ExecContext(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return mapUserErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// mapUserErr translates driver errors into port sentinels, keeping the AppError in the chain.
func mapUserErr(op string, err error) error {
	mapped := apperrors.MapDBError(err)
	switch {
	case apperrors.IsNotFound(mapped):
		return ports.ErrNotFound
	case apperrors.IsConflict(mapped):
		return fmt.Errorf("%s: %w: %w", op, ports.ErrConflict, mapped)
	default:
		return fmt.Errorf("%s: %w", op, mapped)
	}
}
