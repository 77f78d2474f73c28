package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shipnorth/portal-auth/internal/adapters/memstore"
	"github.com/shipnorth/portal-auth/internal/adapters/password"
	"github.com/shipnorth/portal-auth/internal/bootstrap"
	"github.com/shipnorth/portal-auth/internal/data"
	"github.com/shipnorth/portal-auth/internal/devseed"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/service"
)

type timeoutOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

type createUserOptions struct {
	timeoutOptions
	Email    string
	Name     string
	Password string
	Roles    []string
}

type disableUserOptions struct {
	timeoutOptions
	Email  string
	Enable bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("migrate", args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
	})
}

func runSeedDemo(cmdCtx *commandContext, args []string) error {
	opts, err := parseTimeoutFlags("seed-demo", args)
	if err != nil {
		return err
	}
	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "create demo accounts with well-known passwords"); guardErr != nil {
		return guardErr
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return migrateErr
		}
		return devseed.Run(ctx, newUserService(cmdCtx, db), cmdCtx.Logger)
	})
}

func runCreateUser(cmdCtx *commandContext, args []string) error {
	opts, err := parseCreateUserFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		user, createErr := newUserService(cmdCtx, db).CreateUser(ctx, service.CreateUserInput{
			Email:    opts.Email,
			Name:     opts.Name,
			Password: opts.Password,
			Roles:    opts.Roles,
		})
		if createErr != nil {
			return fmt.Errorf("create user: %w", createErr)
		}
		cmdCtx.Logger.InfoContext(ctx, "user created",
			"id", user.ID,
			"email", user.Email,
			"roles", domainauth.RoleStrings(user.Roles),
		)
		return nil
	})
}

func runDisableUser(cmdCtx *commandContext, args []string) error {
	opts, err := parseDisableUserFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewUserRepo(db)
		user, getErr := repo.GetByEmail(ctx, opts.Email)
		if getErr != nil {
			return fmt.Errorf("find user %s: %w", opts.Email, getErr)
		}
		if setErr := repo.SetDisabled(ctx, user.ID, !opts.Enable); setErr != nil {
			return fmt.Errorf("update user %s: %w", opts.Email, setErr)
		}
		// Existing sessions are revoked on their next lookup.
		cmdCtx.Logger.InfoContext(ctx, "user updated", "email", user.Email, "disabled", !opts.Enable)
		return nil
	})
}

// newUserService builds an auth service over the Postgres users table. Sessions are never
// created by admin commands, so an in-memory store is enough.
func newUserService(cmdCtx *commandContext, db *sql.DB) *service.AuthService {
	return service.NewAuthService(service.AuthServiceOptions{
		Users:    data.NewUserRepo(db),
		Sessions: memstore.NewSessionStore(),
		Hasher:   password.Bcrypt{Cost: cmdCtx.Config.Auth.BcryptCost},
		Logger:   cmdCtx.Logger,
	})
}

func withDatabase(cmdCtx *commandContext, timeout time.Duration, fn func(context.Context, *sql.DB) error) (err error) {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close database: %w", closeErr))
		}
	}()
	return fn(ctx, db)
}

func addTimeoutFlags(fs *flag.FlagSet, opts *timeoutOptions) {
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the command")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Allow running against a non-local database host")
}

func checkTimeout(opts timeoutOptions) error {
	if opts.Timeout <= 0 {
		return errors.New("--timeout must be greater than zero")
	}
	return nil
}

func parseTimeoutFlags(name string, args []string) (timeoutOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var opts timeoutOptions
	addTimeoutFlags(fs, &opts)
	if err := fs.Parse(args); err != nil {
		return timeoutOptions{}, err
	}
	return opts, checkTimeout(opts)
}

func parseCreateUserFlags(args []string) (createUserOptions, error) {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts createUserOptions
	var roles string
	addTimeoutFlags(fs, &opts.timeoutOptions)
	fs.StringVar(&opts.Email, "email", "", "Login email (required)")
	fs.StringVar(&opts.Name, "name", "", "Display name")
	fs.StringVar(&opts.Password, "password", "", "Initial password (required)")
	fs.StringVar(&roles, "roles", "", "Comma-separated roles: staff, admin, driver, customer (required)")

	if err := fs.Parse(args); err != nil {
		return createUserOptions{}, err
	}
	if err := checkTimeout(opts.timeoutOptions); err != nil {
		return createUserOptions{}, err
	}

	opts.Email = strings.TrimSpace(opts.Email)
	if opts.Email == "" {
		return createUserOptions{}, errors.New("--email is required")
	}
	if opts.Password == "" {
		return createUserOptions{}, errors.New("--password is required")
	}
	for _, r := range strings.Split(roles, ",") {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := domainauth.ParseRole(r); !ok {
			return createUserOptions{}, fmt.Errorf("unknown role %q", r)
		}
		opts.Roles = append(opts.Roles, r)
	}
	if len(opts.Roles) == 0 {
		return createUserOptions{}, errors.New("--roles needs at least one role")
	}
	if opts.Name == "" {
		opts.Name, _, _ = strings.Cut(opts.Email, "@")
	}
	return opts, nil
}

func parseDisableUserFlags(args []string) (disableUserOptions, error) {
	fs := flag.NewFlagSet("disable-user", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts disableUserOptions
	addTimeoutFlags(fs, &opts.timeoutOptions)
	fs.StringVar(&opts.Email, "email", "", "Login email (required)")
	fs.BoolVar(&opts.Enable, "enable", false, "Re-enable the account instead")

	if err := fs.Parse(args); err != nil {
		return disableUserOptions{}, err
	}
	if err := checkTimeout(opts.timeoutOptions); err != nil {
		return disableUserOptions{}, err
	}
	opts.Email = strings.TrimSpace(opts.Email)
	if opts.Email == "" {
		return disableUserOptions{}, errors.New("--email is required")
	}
	return opts, nil
}

func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) error {
	host := cmdCtx.Config.Postgres.Host
	if !isLikelyRemoteHost(host) {
		return nil
	}
	if !allow {
		return fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			host,
		)
	}
	return requireRemoteHostConfirmation(action, host)
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" || h == "localhost" || strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

func requireRemoteHostConfirmation(action, host string) error {
	if err := writef(os.Stderr,
		"\nWARNING: database host %q does not look like a local address.\nThis operation will %s.\n"+
			"Type %q to continue or press enter to abort: ",
		host, action, host,
	); err != nil {
		return fmt.Errorf("print remote host prompt: %w", err)
	}
	resp, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil || strings.TrimSpace(resp) != host {
		return errors.New("aborted by user")
	}
	return nil
}
